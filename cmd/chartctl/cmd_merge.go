package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/houzhh15/singstudio/pkg/duet"
)

func newMergeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "merge <p1.txt> <p2.txt>",
		Short: "离线将两个独唱谱合并为带 P1/P2 标记的合唱谱",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			names := duet.Names{
				P1: mustGetString(cmd, "p1"),
				P2: mustGetString(cmd, "p2"),
			}
			out := mustGetString(cmd, "out")
			chart, err := duet.MergeFiles(args[0], args[1], out, names, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d notes)\n", out, chart.PitchedCount())
			return nil
		},
	}
	c.Flags().String("out", "duet.txt", "输出文件")
	c.Flags().String("p1", "", "P1 歌手名（默认 Player 1）")
	c.Flags().String("p2", "", "P2 歌手名（默认 Player 2）")
	return c
}
