package transcriber

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// HTTPTranscriber sends audio to a remote UltraSinger service and stores the
// chart it answers with.
//
// API: POST {baseURL}/api/transcribe (multipart: audio, language,
// whisper_model, crepe_model, force_cpu) returns the chart as text/plain.
// GET {baseURL}/health answers 200 when the service is ready.
type HTTPTranscriber struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewHTTPTranscriber creates an HTTP engine. Charts for long songs take
// minutes, so the client timeout is generous.
func NewHTTPTranscriber(baseURL string) *HTTPTranscriber {
	return &HTTPTranscriber{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Minute},
		log:        slog.Default().With("component", "transcriber", "engine", "ultrasinger-http"),
	}
}

// Transcribe streams the audio as multipart form data. The body is produced
// by a pipe so large files are never held in memory.
func (h *HTTPTranscriber) Transcribe(ctx context.Context, req Request, report func(float64, string)) (string, error) {
	if report == nil {
		report = nopReport
	}
	if err := ensureDir(req.OutputDir); err != nil {
		return "", err
	}
	file, err := os.Open(req.AudioFile)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(writer, file, req))
	}()

	endpoint := h.baseURL + "/api/transcribe"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	report(0, "Uploading audio to UltraSinger service...")
	h.log.Info("transcription request", "endpoint", endpoint, "audio", req.AudioFile)
	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	report(0.9, "Receiving chart...")

	base := strings.TrimSuffix(filepath.Base(req.AudioFile), filepath.Ext(req.AudioFile))
	out := filepath.Join(req.OutputDir, base+".txt")
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create chart file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("read chart: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}
	report(1, "UltraSinger processing complete")
	return out, nil
}

func writeForm(w *multipart.Writer, audio *os.File, req Request) error {
	part, err := w.CreateFormFile("audio", filepath.Base(req.AudioFile))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return err
	}
	fields := map[string]string{
		"language":      req.Language,
		"whisper_model": req.WhisperModel,
		"crepe_model":   req.CrepeModel,
		"force_cpu":     strconv.FormatBool(req.ForceCPU),
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	return w.Close()
}

// HealthCheck calls GET /health.
func (h *HTTPTranscriber) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("failed to create health check request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	return false, fmt.Errorf("health check failed: status %d", resp.StatusCode)
}

func (h *HTTPTranscriber) Name() string { return "ultrasinger-http" }
