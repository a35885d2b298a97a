package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/dependency"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/health"
	"github.com/houzhh15/singstudio/cmd/server/internal/orchestrator/transcriber"
	"github.com/houzhh15/singstudio/pkg/duet"
)

const testChart = "#TITLE:Song\n#ARTIST:Band\n#BPM:300\n#GAP:0\n: 0 4 60 Hel\n: 4 4 62 lo\n- 10\n: 12 4 64 world\nE\n"

type stubAcquirer struct{}

func (stubAcquirer) Acquire(ctx context.Context, url, dir string, report func(float64, string)) (dependency.Media, error) {
	audio := filepath.Join(dir, "abc.mp3")
	if err := os.WriteFile(audio, []byte("ID3"), 0o644); err != nil {
		return dependency.Media{}, err
	}
	return dependency.Media{AudioFile: audio, Title: "Test Song", Artist: "Test Artist"}, nil
}

// stubTranscriber 写出固定谱面；gate 非空时阻塞
type stubTranscriber struct {
	gate chan struct{}
	err  error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, req transcriber.Request, report func(float64, string)) (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return "", err
	}
	out := filepath.Join(req.OutputDir, "chart.txt")
	return out, os.WriteFile(out, []byte(testChart), 0o644)
}

type stubDiarizer struct {
	segs duet.Segments
	err  error
}

func (s stubDiarizer) Diarize(ctx context.Context, audio, dir string, minSpeakers, maxSpeakers int) (duet.Segments, error) {
	return s.segs, s.err
}

type stubSplitter struct{}

func (stubSplitter) Split(ctx context.Context, audio string, segs []duet.SpeakerSegment, out string) error {
	return os.WriteFile(out, []byte("RIFF"), 0o644)
}

var twoSpeakers = duet.Segments{
	"SPEAKER_00": {{SpeakerID: "SPEAKER_00", Start: 0, End: 10}},
	"SPEAKER_01": {{SpeakerID: "SPEAKER_01", Start: 10, End: 18}},
}

type testServer struct {
	router    *gin.Engine
	orch      *orchestrator.Orchestrator
	uploadDir string
}

func newTestServer(t *testing.T, tr *stubTranscriber) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := orchestrator.DefaultConfig()
	cfg.OutputDir = t.TempDir()
	o, err := orchestrator.New(cfg, orchestrator.Collaborators{
		Acquirer:    stubAcquirer{},
		Diarizer:    stubDiarizer{segs: twoSpeakers},
		Splitter:    stubSplitter{},
		Transcriber: tr,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})

	uploadDir := t.TempDir()
	r := gin.New()
	RegisterRoutes(r, Deps{
		Jobs:      o,
		Counter:   o,
		Engine:    fakeEngine{},
		UploadDir: uploadDir,
		Duet: DuetChecker{
			Diarizer:    stubDiarizer{segs: twoSpeakers},
			UploadDir:   uploadDir,
			MinSpeakers: 2,
			MaxSpeakers: 2,
		},
	})
	return &testServer{router: r, orch: o, uploadDir: uploadDir}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) submit(t *testing.T, spec orchestrator.JobSpec) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/jobs", spec)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "Job created successfully", resp.Message)
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

func (s *testServer) waitFor(t *testing.T, id string, status orchestrator.Status) orchestrator.Job {
	t.Helper()
	var j orchestrator.Job
	require.Eventually(t, func() bool {
		var err error
		j, err = s.orch.Get(id)
		return err == nil && j.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return j
}

func soloSpec() orchestrator.JobSpec {
	return orchestrator.JobSpec{
		Source:    orchestrator.SourceRemote,
		RemoteURL: "https://www.youtube.com/watch?v=abc",
		Language:  "en",
		Quality:   orchestrator.QualityFast,
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

type fakeEngine struct{}

func (fakeEngine) Name() string     { return "ultrasinger-http" }
func (fakeEngine) IsDegraded() bool { return false }
func (fakeEngine) Status() health.ServiceStatus {
	return health.ServiceStatus{Name: "ultrasinger-http", IsHealthy: true}
}

func TestCreateJobValidation(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	spec := soloSpec()
	spec.Quality = "ultra"
	w = s.do(t, http.MethodPost, "/api/jobs", spec)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeBody(t, w)["code"])

	page, total := s.orch.Page(0, 0)
	assert.Empty(t, page)
	assert.Zero(t, total)
}

func TestCreateJobUploadOutsideUploadDir(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})

	outside := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("ID3"), 0o644))

	for _, path := range []string{"/etc/hostname", outside, filepath.Join(s.uploadDir, "..", "x.mp3"), s.uploadDir} {
		w := s.do(t, http.MethodPost, "/api/jobs", orchestrator.JobSpec{
			Source:       orchestrator.SourceUpload,
			UploadedFile: path,
			Language:     "en",
			Quality:      orchestrator.QualityBalanced,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}

	w := s.do(t, http.MethodPost, "/api/jobs", orchestrator.JobSpec{
		Source:       orchestrator.SourceUpload,
		UploadedFile: filepath.Join(s.uploadDir, "missing.mp3"),
		Language:     "en",
		Quality:      orchestrator.QualityBalanced,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	_, total := s.orch.Page(0, 0)
	assert.Zero(t, total)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})
	id := s.submit(t, soloSpec())
	s.waitFor(t, id, orchestrator.StatusCompleted)

	w := s.do(t, http.MethodGet, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, id, view.ID)
	assert.Equal(t, orchestrator.StatusCompleted, view.Status)
	assert.Equal(t, "Test Song", view.Title)
	assert.NotEmpty(t, view.ResultFile)
	assert.Equal(t, 100.0, view.Progress.Percentage)

	w = s.do(t, http.MethodGet, "/api/jobs?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs  []JobView `json:"jobs"`
		Total int       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Jobs, 1)

	// 已完成作业不可取消也不可重试
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil).Code)
	w = s.do(t, http.MethodPost, "/api/jobs/"+id+"/retry", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "NOT_RETRYABLE", decodeBody(t, w)["code"])

	w = s.do(t, http.MethodDelete, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Job deleted", decodeBody(t, w)["message"])
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/jobs/"+id, nil).Code)
}

func TestListJobsBadQuery(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/jobs?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/jobs?offset=-1", nil).Code)
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/api/jobs/nope", http.StatusNotFound},
		{http.MethodDelete, "/api/jobs/nope", http.StatusNotFound},
		{http.MethodPost, "/api/jobs/nope/retry", http.StatusNotFound},
		{http.MethodPost, "/api/jobs/nope/cancel", http.StatusBadRequest},
		{http.MethodGet, "/api/jobs/nope/download", http.StatusNotFound},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, s.do(t, tc.method, tc.path, nil).Code)
		})
	}
}

func TestCancelAndRetry(t *testing.T) {
	tr := &stubTranscriber{gate: make(chan struct{})}
	s := newTestServer(t, tr)
	id := s.submit(t, soloSpec())
	s.waitFor(t, id, orchestrator.StatusProcessing)

	// 未完成作业不可下载
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/jobs/"+id+"/download", nil).Code)

	w := s.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	s.waitFor(t, id, orchestrator.StatusCancelled)

	close(tr.gate)
	w = s.do(t, http.MethodPost, "/api/jobs/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Job resubmitted", body["message"])
	newID, _ := body["job_id"].(string)
	assert.NotEqual(t, id, newID)
	s.waitFor(t, newID, orchestrator.StatusCompleted)
}

func TestFailedJobReportsError(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{err: errors.New("CUDA out of memory")})
	id := s.submit(t, soloSpec())
	j := s.waitFor(t, id, orchestrator.StatusFailed)
	assert.Contains(t, j.ErrorMessage, "CUDA out of memory")
	assert.Empty(t, j.ResultFile)
}

func TestDownloadAndExport(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})
	id := s.submit(t, soloSpec())
	s.waitFor(t, id, orchestrator.StatusCompleted)

	w := s.do(t, http.MethodGet, "/api/jobs/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testChart, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "chart.txt")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/jobs/"+id+"/download?file_type=duet", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/jobs/"+id+"/download?file_type=cover", nil).Code)

	w = s.do(t, http.MethodGet, "/api/jobs/"+id+"/export?format=srt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/x-subrip")
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Test_Song.srt")
	assert.True(t, strings.HasPrefix(w.Body.String(), "1\n00:00:00,000 --> "), w.Body.String())

	w = s.do(t, http.MethodGet, "/api/jobs/"+id+"/export?format=lrc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "[ti:Song]")

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/jobs/"+id+"/export?format=docx", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/jobs/"+id+"/download-zip", nil).Code)
}

func TestDuetJobZip(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})
	spec := soloSpec()
	spec.DuetEnabled = true
	spec.Singer1Name = "Alice"
	spec.Singer2Name = "Bob"
	id := s.submit(t, spec)
	j := s.waitFor(t, id, orchestrator.StatusCompleted)
	require.True(t, j.IsDuet)

	w := s.do(t, http.MethodGet, "/api/jobs/"+id+"/download?file_type=solo2", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/jobs/"+id+"/download-zip", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "test-song_all_files.zip")

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"Test_Song_duet.txt", "chart.txt", "solo2_chart.txt"}, names)
}

func multipartUpload(t *testing.T, field, name string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, multipartUpload(t, "file", "My Song.MP3", []byte("ID3")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		FileID   string `json:"file_id"`
		Filename string `json:"filename"`
		Path     string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "My Song.MP3", resp.Filename)
	assert.Equal(t, filepath.Join(s.uploadDir, resp.FileID+".mp3"), resp.Path)
	data, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3", string(data))

	// 上传文件可直接提交作业
	id := s.submit(t, orchestrator.JobSpec{
		Source:       orchestrator.SourceUpload,
		UploadedFile: resp.Path,
		Language:     "en",
		Quality:      orchestrator.QualityBalanced,
	})
	j := s.waitFor(t, id, orchestrator.StatusCompleted)
	assert.Equal(t, resp.Path, j.InputFile)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, multipartUpload(t, "file", "virus.exe", []byte("MZ")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, multipartUpload(t, "", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDuetCheck(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})
	audio := filepath.Join(s.uploadDir, "a.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("ID3"), 0o644))

	w := s.do(t, http.MethodPost, "/api/duet/check", gin.H{"file": audio})
	require.Equal(t, http.StatusOK, w.Code)
	var a duet.Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.True(t, a.Suitable)
	assert.Equal(t, 2, a.Speakers)

	outside := filepath.Join(t.TempDir(), "b.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("ID3"), 0o644))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/duet/check", gin.H{"file": outside}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/duet/check", gin.H{"file": filepath.Join(s.uploadDir, "missing.mp3")}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/duet/check", gin.H{}).Code)

	// 工作目录检查后被清理
	entries, err := os.ReadDir(s.uploadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDuetCheckWithoutDiarizer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	audio := filepath.Join(dir, "a.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("ID3"), 0o644))

	r := gin.New()
	r.POST("/api/duet/check", HandleDuetCheck(DuetChecker{UploadDir: dir}))
	body, _ := json.Marshal(gin.H{"file": audio})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/duet/check", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var a duet.Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.False(t, a.Suitable)
	assert.Equal(t, "Speaker detection not available", a.Message)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubTranscriber{})
	w := s.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string `json:"status"`
		Engines struct {
			Transcriber struct {
				Active   string `json:"active"`
				Degraded bool   `json:"degraded"`
			} `json:"transcriber"`
		} `json:"engines"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ultrasinger-http", body.Engines.Transcriber.Active)
	assert.False(t, body.Engines.Transcriber.Degraded)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", nil).Code)
}
