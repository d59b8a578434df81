package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/db"
	"github.com/goaly/internal/handler"
	"github.com/goaly/internal/router"
	"github.com/spf13/cobra"
)

// shutdownTimeout 是优雅退出时等待请求结束的时间。
const shutdownTimeout = 10 * time.Second

// NewServeCommand 启动本地 HTTP 服务。
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动本地 HTTP 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if listen == "" {
				listen = cfg.ListenAddr
			}
			gin.SetMode(cfg.GinMode)

			rt, err := openRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()

			// 初始化超级管理员
			if err := db.EnsureUser(rt.db, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
				return err
			}

			var (
				sync    handler.SyncService
				account handler.RemoteAccount
			)
			if rt.sync != nil {
				sync, account = rt.sync, rt.client
			}
			api := handler.NewAPI(rt.db, rt.app, sync, account, opts.Logger)
			r := router.SetupRouter(api, cfg.SessionSecret)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveHTTP(ctx, opts, &http.Server{Addr: listen, Handler: r}, "goaly")
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖配置")
	return cmd
}

// serveHTTP 运行 srv 直到 ctx 结束，然后优雅关闭。
func serveHTTP(ctx context.Context, opts *RootOptions, srv *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		opts.Logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	opts.Logger.Info().Str("server", name).Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
