package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chartctl",
		Short:         "SingStudio CLI - 卡拉OK谱面作业管理与离线转换工具",
		Long:          "通过 HTTP API 管理谱面生成作业，并可离线转换、合并 UltraStar 谱面。",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 添加全局标志
	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(newJobsCmd())
	rootCmd.AddCommand(newConvertCmd())
	rootCmd.AddCommand(newMergeCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
