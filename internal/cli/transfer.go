package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// NewExportCommand 把当前数据写到文件或标准输出。
func NewExportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "导出全部数据为 JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			var out io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return printJSON(out, rt.app.Payload())
		},
	}
}

// NewImportCommand 导入 JSON 文件；旧版本数据需要 --yes 确认迁移。
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "从 JSON 文件导入数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			rt, err := openRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.app.Import(raw, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			if !result.MigrationRequired {
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d goals\n", result.GoalCount)
				return nil
			}

			preview := result.Migration
			if !confirm {
				rt.app.CancelMigration()
				fmt.Fprintf(cmd.OutOrStdout(), "file is version %s, migration to %s required for %d goals; rerun with --yes to apply\n",
					preview.SourceVersion, preview.TargetVersion, preview.GoalCount)
				return nil
			}
			if err := rt.app.CompleteMigration(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d goals from %s to %s\n", preview.GoalCount, preview.SourceVersion, preview.TargetVersion)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "确认旧版本数据的迁移")
	return cmd
}
