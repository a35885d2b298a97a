package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/singstudio/pkg/ultrastar"
)

const sampleChart = "#TITLE:Song\n#ARTIST:Band\n#BPM:300\n#GAP:0\n: 0 4 60 Hel\n: 4 4 62 lo\nE\n"

// run 执行 CLI 并返回标准输出
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SINGSTUDIO_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeChart(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadConfigPrecedence(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("server_url: http://from-file:8000\noutput: json\n"), 0o644))
	t.Setenv("SINGSTUDIO_CONFIG", cfgFile)
	t.Setenv("SINGSTUDIO_SERVER_URL", "http://from-env:8000")

	root := newRootCmd()
	cfg := LoadConfig(root)
	assert.Equal(t, "http://from-env:8000", cfg.ServerURL)
	assert.Equal(t, "json", cfg.Output)

	// 命令行标志优先于环境变量和配置文件
	require.NoError(t, root.ParseFlags([]string{"--server-url", "http://from-flag:8000", "-o", "text"}))
	cfg = LoadConfig(root)
	assert.Equal(t, "http://from-flag:8000", cfg.ServerURL)
	assert.Equal(t, "text", cfg.Output)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SINGSTUDIO_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SINGSTUDIO_SERVER_URL", "")

	cfg := LoadConfig(newRootCmd())
	assert.Equal(t, defaultServerURL, cfg.ServerURL)
	assert.Equal(t, "text", cfg.Output)
}

func TestConvertCmd(t *testing.T) {
	dir := t.TempDir()
	chart := writeChart(t, dir, "song.txt", sampleChart)

	_, err := run(t, "convert", chart, "--format", "lrc")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "song.lrc"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[ti:Song]")

	out, err := run(t, "convert", chart, "--format", "txt", "--out", "-")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Song\nby Band\n"), out)

	_, err = run(t, "convert", chart, "--format", "pdf")
	assert.Error(t, err)
}

func TestMergeCmd(t *testing.T) {
	dir := t.TempDir()
	p1 := writeChart(t, dir, "p1.txt", sampleChart)
	p2 := writeChart(t, dir, "p2.txt", sampleChart)
	dst := filepath.Join(dir, "duet.txt")

	out, err := run(t, "merge", p1, p2, "--out", dst, "--p1", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, "4 notes")

	merged, err := ultrastar.ParseFile(dst)
	require.NoError(t, err)
	v, _ := merged.Meta(ultrastar.KeyDuetSingerP1)
	assert.Equal(t, "Alice", v)
	v, _ = merged.Meta(ultrastar.KeyDuetSingerP2)
	assert.Equal(t, "Player 2", v)

	_, err = run(t, "merge", p1, filepath.Join(dir, "missing.txt"), "--out", dst)
	assert.Error(t, err)
}

func TestJobsSubmitRequiresOneSource(t *testing.T) {
	_, err := run(t, "jobs", "submit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one of --url or --file")
}

func TestJobsCommandsAgainstServer(t *testing.T) {
	var gotSubmit map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &gotSubmit)
			w.Write([]byte(`{"job_id":"j1","status":"queued","message":"Job created successfully"}`))
		case http.MethodGet:
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			w.Write([]byte(`{"jobs":[{"job_id":"j1","status":"queued","title":"Song","queue_position":2,"progress":{"percentage":0,"message":"Job queued"}}],"total":1}`))
		}
	})
	mux.HandleFunc("/api/jobs/j1/retry", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"job j1 cannot be retried in status queued","code":"NOT_RETRYABLE"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	out, err := run(t, "--server-url", srv.URL, "jobs", "submit", "--url", "https://youtu.be/x", "--duet", "--singer1", "Alice")
	require.NoError(t, err)
	assert.Contains(t, out, `"job_id":"j1"`)
	assert.Equal(t, "remote-fetch", gotSubmit["source"])
	assert.Equal(t, "https://youtu.be/x", gotSubmit["remote_url"])
	assert.Equal(t, true, gotSubmit["duet_enabled"])
	assert.Equal(t, "Alice", gotSubmit["singer_1_name"])
	assert.NotContains(t, gotSubmit, "singer_2_name")

	out, err = run(t, "--server-url", srv.URL, "jobs", "list", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "queued (#2)")
	assert.Contains(t, out, "1 of 1 jobs")

	_, err = run(t, "--server-url", srv.URL, "jobs", "retry", "j1")
	require.Error(t, err)
	assert.Equal(t, "HTTP 400: job j1 cannot be retried in status queued", err.Error())
}

func TestJobsWatch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if r.URL.Path != "/api/ws/j1" {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4004, "Job not found"))
			return
		}
		conn.WriteJSON(map[string]interface{}{"status": "processing", "percentage": 42.5, "message": "Pitching"})
		conn.WriteJSON(map[string]interface{}{"status": "completed", "percentage": 100, "message": "Processing completed successfully!"})
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
	}))
	defer srv.Close()

	out, err := run(t, "--server-url", srv.URL, "jobs", "watch", "j1")
	require.NoError(t, err)
	assert.Contains(t, out, "[processing]  42.5% Pitching")
	assert.Contains(t, out, "[completed] 100.0%")

	_, err = run(t, "--server-url", srv.URL, "jobs", "watch", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
