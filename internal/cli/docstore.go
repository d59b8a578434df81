package cli

import (
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/db"
	"github.com/goaly/internal/docstore"
	"github.com/spf13/cobra"
)

// NewDocstoreCommand 运行自托管的远端文档存储服务。
func NewDocstoreCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docstore",
		Short: "远端文档存储服务",
	}
	cmd.AddCommand(newDocstoreServeCommand(opts))
	return cmd
}

func newDocstoreServeCommand(opts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动文档存储服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if listen == "" {
				listen = cfg.DocstoreListenAddr
			}
			gin.SetMode(cfg.GinMode)

			gdb, err := db.OpenDocstore(cfg.DocstoreDatabasePath)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			service := docstore.NewService(gdb, cfg.DocstoreTokenTTL, opts.Logger)
			r := docstore.SetupRouter(docstore.NewHandler(service))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveHTTP(ctx, opts, &http.Server{Addr: listen, Handler: r}, "docstore")
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "监听地址，覆盖配置")
	return cmd
}
