package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// addOptionalString 如果命令行标志有值则添加到 body map
func addOptionalString(cmd *cobra.Command, body map[string]interface{}, flag string, jsonKeys ...string) {
	v, _ := cmd.Flags().GetString(flag)
	if v == "" {
		return
	}
	body[jsonKey(flag, jsonKeys)] = v
}

// addOptionalBool 如果命令行标志被设置则添加到 body map
func addOptionalBool(cmd *cobra.Command, body map[string]interface{}, flag string, jsonKeys ...string) {
	if !cmd.Flags().Changed(flag) {
		return
	}
	v, _ := cmd.Flags().GetBool(flag)
	body[jsonKey(flag, jsonKeys)] = v
}

func jsonKey(flag string, keys []string) string {
	if len(keys) > 0 {
		return keys[0]
	}
	return strings.ReplaceAll(flag, "-", "_")
}

// mustGetString 获取必选的字符串标志
func mustGetString(cmd *cobra.Command, flag string) string {
	v, _ := cmd.Flags().GetString(flag)
	return v
}

// jobPath 拼接作业相关的 API 路径
func jobPath(id string, suffix ...string) string {
	p := "/api/jobs/" + id
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// exactlyOne 校验两个互斥标志恰好设置一个
func exactlyOne(cmd *cobra.Command, a, b string) error {
	va, vb := mustGetString(cmd, a), mustGetString(cmd, b)
	if (va == "") == (vb == "") {
		return fmt.Errorf("exactly one of --%s or --%s is required", a, b)
	}
	return nil
}
