package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// printOutput 按指定格式输出响应数据
func printOutput(w io.Writer, format string, data []byte) error {
	if format == "json" {
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			// 非 JSON 数据直接输出
			fmt.Fprintln(w, string(data))
			return nil
		}
		fmt.Fprintln(w, out.String())
		return nil
	}
	// text 模式：直接输出
	fmt.Fprintln(w, string(data))
	return nil
}

// jobRow 列表输出需要的作业字段
type jobRow struct {
	ID       string `json:"job_id"`
	Status   string `json:"status"`
	Title    string `json:"title"`
	IsDuet   bool   `json:"is_duet"`
	Progress struct {
		Percentage float64 `json:"percentage"`
		Message    string  `json:"message"`
	} `json:"progress"`
	QueuePosition int `json:"queue_position"`
}

// printJobTable 以表格输出作业列表
func printJobTable(w io.Writer, jobs []jobRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tDUET\tTITLE\tMESSAGE")
	for _, j := range jobs {
		status := j.Status
		if j.QueuePosition > 0 {
			status = fmt.Sprintf("%s (#%d)", status, j.QueuePosition)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%t\t%s\t%s\n", j.ID, status, j.Progress.Percentage, j.IsDuet, j.Title, j.Progress.Message)
	}
	return tw.Flush()
}

// printCounts 按状态名排序输出计数
func printCounts(w io.Writer, counts map[string]int) error {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
	}
	return tw.Flush()
}
