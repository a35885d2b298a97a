package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// APIClient 封装 HTTP 客户端
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient 创建新的 API 客户端
func NewAPIClient(cfg *Config) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Get 发送 GET 请求
func (c *APIClient) Get(path string) ([]byte, error) {
	return c.doRequest(http.MethodGet, path, "", nil)
}

// Request 发送带 JSON body 的请求 (POST/PUT/DELETE)
func (c *APIClient) Request(method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.doRequest(method, path, contentType, reader)
}

// Upload 以 multipart 上传本地音频，返回服务端保存路径
func (c *APIClient) Upload(file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(file))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	data, err := c.doRequest(http.MethodPost, "/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var resp struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse upload response: %w", err)
	}
	return resp.Path, nil
}

// Watch 订阅作业进度，每个事件回调一次，服务端关闭连接后返回
func (c *APIClient) Watch(jobID string, onEvent func(map[string]interface{})) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/api/ws/" + jobID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", wsURL, err)
	}
	defer conn.Close()

	for {
		var ev map[string]interface{}
		err := conn.ReadJSON(&ev)
		switch {
		case err == nil:
			onEvent(ev)
		case websocket.IsCloseError(err, websocket.CloseNormalClosure):
			return nil
		case websocket.IsCloseError(err, 4004):
			return fmt.Errorf("job %s not found", jobID)
		default:
			return err
		}
	}
}

// doRequest 执行 HTTP 请求
func (c *APIClient) doRequest(method, path, contentType string, body io.Reader) ([]byte, error) {
	url := c.BaseURL + path
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed (check SINGSTUDIO_SERVER_URL=%s): %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return data, nil
}
