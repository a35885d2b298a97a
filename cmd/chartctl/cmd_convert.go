package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/houzhh15/singstudio/pkg/export"
	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

func newConvertCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "convert <chart.txt>",
		Short: "离线将 UltraStar 谱面转换为 srt / lrc / json / txt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := export.ParseFormat(mustGetString(cmd, "format"))
			if err != nil {
				return err
			}
			chart, err := ultrastar.ParseFile(args[0])
			if err != nil {
				return err
			}
			out, err := export.Convert(format, chart)
			if err != nil {
				return err
			}

			dst := mustGetString(cmd, "out")
			if dst == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			}
			if dst == "" {
				dst = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + format.Extension()
			}
			if err := os.WriteFile(dst, []byte(out), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", dst)
			return nil
		},
	}
	c.Flags().String("format", string(export.FormatSRT), "目标格式: srt / lrc / json / txt")
	c.Flags().String("out", "", "输出文件（默认与输入同名，- 表示标准输出）")
	return c
}
