package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "作业管理 (提交、查询、取消、重试、删除、下载)",
	}
	cmd.AddCommand(newJobsSubmitCmd())
	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsGetCmd())
	cmd.AddCommand(newJobsActionCmd("cancel", "取消排队或处理中的作业", "POST", "cancel"))
	cmd.AddCommand(newJobsActionCmd("retry", "以原参数重新提交失败或已取消的作业", "POST", "retry"))
	cmd.AddCommand(newJobsActionCmd("delete", "删除作业及其输出文件", "DELETE", ""))
	cmd.AddCommand(newJobsWatchCmd())
	cmd.AddCommand(newJobsDownloadCmd())
	return cmd
}

func newJobsSubmitCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "submit",
		Short: "提交新作业 (--url 或 --file)",
		Example: `  chartctl jobs submit --url https://www.youtube.com/watch?v=xyz --quality balanced
  chartctl jobs submit --file song.mp3 --duet --singer1 Alice --singer2 Bob`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := exactlyOne(cmd, "url", "file"); err != nil {
				return err
			}
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			body := map[string]interface{}{
				"language": mustGetString(cmd, "language"),
				"quality":  mustGetString(cmd, "quality"),
			}
			if u := mustGetString(cmd, "url"); u != "" {
				body["source"] = "remote-fetch"
				body["remote_url"] = u
			} else {
				path, err := client.Upload(mustGetString(cmd, "file"))
				if err != nil {
					return fmt.Errorf("upload: %w", err)
				}
				body["source"] = "local-upload"
				body["uploaded_file"] = path
			}
			addOptionalString(cmd, body, "name", "display_name")
			addOptionalBool(cmd, body, "duet", "duet_enabled")
			addOptionalString(cmd, body, "singer1", "singer_1_name")
			addOptionalString(cmd, body, "singer2", "singer_2_name")

			resp, err := client.Request("POST", "/api/jobs", body)
			if err != nil {
				return err
			}
			if watch, _ := cmd.Flags().GetBool("watch"); watch {
				var created struct {
					JobID string `json:"job_id"`
				}
				if err := json.Unmarshal(resp, &created); err != nil {
					return err
				}
				return watchJob(cmd, client, created.JobID)
			}
			return printOutput(cmd.OutOrStdout(), cfg.Output, resp)
		},
	}
	c.Flags().String("url", "", "远程音视频地址")
	c.Flags().String("file", "", "本地音频文件，先上传再提交")
	c.Flags().String("language", "en", "歌词语言")
	c.Flags().String("quality", "balanced", "质量: fast / balanced / accurate")
	c.Flags().String("name", "", "显示名称")
	c.Flags().Bool("duet", false, "启用合唱模式")
	c.Flags().String("singer1", "", "P1 歌手名")
	c.Flags().String("singer2", "", "P2 歌手名")
	c.Flags().Bool("watch", false, "提交后跟踪进度直到结束")
	return c
}

func newJobsListCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "list",
		Short: "列出作业（最新优先）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			q := url.Values{}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			q.Set("limit", fmt.Sprint(limit))
			q.Set("offset", fmt.Sprint(offset))
			resp, err := client.Get("/api/jobs?" + q.Encode())
			if err != nil {
				return err
			}
			if cfg.Output == "json" {
				return printOutput(cmd.OutOrStdout(), cfg.Output, resp)
			}

			var page struct {
				Jobs  []jobRow `json:"jobs"`
				Total int      `json:"total"`
			}
			if err := json.Unmarshal(resp, &page); err != nil {
				return fmt.Errorf("parse job list: %w", err)
			}
			if err := printJobTable(cmd.OutOrStdout(), page.Jobs); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d jobs\n", len(page.Jobs), page.Total)
			return nil
		},
	}
	c.Flags().Int("limit", 50, "返回数量")
	c.Flags().Int("offset", 0, "跳过数量")
	return c
}

func newJobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "查看作业详情",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			resp, err := NewAPIClient(cfg).Get(jobPath(args[0]))
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), "json", resp)
		},
	}
}

// newJobsActionCmd 构造只需作业 ID 的简单命令
func newJobsActionCmd(use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			path := jobPath(args[0])
			if suffix != "" {
				path = jobPath(args[0], suffix)
			}
			resp, err := NewAPIClient(cfg).Request(method, path, nil)
			if err != nil {
				return err
			}
			return printOutput(cmd.OutOrStdout(), cfg.Output, resp)
		},
	}
}

func newJobsWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "实时跟踪作业进度",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			return watchJob(cmd, NewAPIClient(cfg), args[0])
		},
	}
}

func watchJob(cmd *cobra.Command, client *APIClient, id string) error {
	out := cmd.OutOrStdout()
	var last map[string]interface{}
	err := client.Watch(id, func(ev map[string]interface{}) {
		last = ev
		fmt.Fprintf(out, "[%v] %5.1f%% %v\n", ev["status"], ev["percentage"], ev["message"])
	})
	if err != nil {
		return err
	}
	if last != nil && last["status"] != "completed" {
		return fmt.Errorf("job %s ended with status %v", id, last["status"])
	}
	return nil
}

func newJobsDownloadCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "download <job-id>",
		Short: "下载作业结果 (谱面、导出格式或打包文件)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)

			var path string
			format := mustGetString(cmd, "format")
			zipAll, _ := cmd.Flags().GetBool("zip")
			switch {
			case zipAll:
				path = jobPath(args[0], "download-zip")
			case format != "":
				path = jobPath(args[0], "export") + "?format=" + url.QueryEscape(format)
			default:
				path = jobPath(args[0], "download") + "?file_type=" + url.QueryEscape(mustGetString(cmd, "type"))
			}

			data, err := client.Get(path)
			if err != nil {
				return err
			}
			outFile := mustGetString(cmd, "out")
			if outFile == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(outFile, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%d bytes)\n", outFile, len(data))
			return nil
		},
	}
	c.Flags().String("type", "main", "文件类型: main / duet / solo1 / solo2")
	c.Flags().String("format", "", "导出格式: srt / lrc / json / txt")
	c.Flags().Bool("zip", false, "下载合唱作业的全部文件")
	c.Flags().String("out", "", "输出文件（默认写到标准输出）")
	return c
}
