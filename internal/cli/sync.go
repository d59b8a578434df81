package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// NewSyncCommand 立即执行一次同步。
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "与远端存储同步一次",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRemote(); err != nil {
				return err
			}

			result, err := rt.sync.Sync(cmd.Context(), false)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

// NewStatusCommand 输出同步状态与方向。
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "查看同步状态",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRemote(); err != nil {
				return err
			}

			report, err := rt.sync.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

// NewLoginCommand 登录远端存储并保存 token。
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "登录远端存储",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRemote(); err != nil {
				return err
			}

			if strings.TrimSpace(username) == "" {
				return fmt.Errorf("--username is required")
			}
			if password == "" {
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}

			if err := rt.client.Login(cmd.Context(), strings.TrimSpace(username), password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "远端存储用户名")
	cmd.Flags().StringVarP(&password, "password", "p", "", "远端存储密码（留空则交互输入）")
	return cmd
}

// NewLogoutCommand 删除保存的远端 token。
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "退出远端存储",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.requireRemote(); err != nil {
				return err
			}
			return rt.client.Logout()
		},
	}
}

func readPassword(cmd *cobra.Command) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		return string(raw), err
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
