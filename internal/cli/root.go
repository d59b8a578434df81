// Package cli 定义 goaly 命令行：本地服务、同步、导入导出与文档存储服务。
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goaly/internal/config"
	"github.com/goaly/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions 保存所有子命令共享的状态。
type RootOptions struct {
	ConfigFile string
	LogLevel   string

	Config config.AppConfig
	Logger zerolog.Logger

	closer io.Closer
}

// NewRootCommand 创建 goaly 根命令。
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "goaly",
		Short:         "goaly - 目标追踪与多设备同步",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.closer != nil {
				return opts.closer.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "配置文件路径（默认读取 ./goaly.yaml）")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "日志级别，覆盖配置")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewDocstoreCommand(opts))

	return cmd
}

// Execute 运行根命令，出错时以非零状态退出。
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (o *RootOptions) init() error {
	if path := strings.TrimSpace(o.ConfigFile); path != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG", path); err != nil {
			return err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		cfg.LogLevel = level
	}
	o.Config = cfg

	o.Logger, o.closer = logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if cfg.ConfigFile != "" {
		o.Logger.Debug().Str("file", cfg.ConfigFile).Msg("config loaded")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
