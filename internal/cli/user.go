package cli

import (
	"fmt"
	"strings"

	"github.com/goaly/internal/db"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// NewUserCommand 管理本地服务或文档存储服务的登录账号。
func NewUserCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "管理登录账号",
	}
	cmd.AddCommand(newUserAddCommand(opts))
	return cmd
}

func newUserAddCommand(opts *RootOptions) *cobra.Command {
	var (
		username string
		password string
		docstore bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "创建账号或重置密码",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(username) == "" {
				return fmt.Errorf("--username is required")
			}
			if password == "" {
				var err error
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}

			var (
				gdb *gorm.DB
				err error
			)
			if docstore {
				gdb, err = db.OpenDocstore(opts.Config.DocstoreDatabasePath)
			} else {
				gdb, err = db.Open(opts.Config.DatabasePath)
			}
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			if err := db.SetPassword(gdb, username, password); err != nil {
				return err
			}
			opts.Logger.Info().Str("username", strings.TrimSpace(username)).Bool("docstore", docstore).Msg("user saved")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "用户名")
	cmd.Flags().StringVarP(&password, "password", "p", "", "密码（留空则交互输入）")
	cmd.Flags().BoolVar(&docstore, "docstore", false, "写入文档存储服务的数据库")
	return cmd
}
