// Package transcriber turns an audio file into an UltraStar chart with
// UltraSinger. Several engine implementations exist (local CLI, remote HTTP
// service, degraded mock) behind one interface so the degradation controller
// can switch between them.
package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUnavailable is returned when no working engine is left.
var ErrUnavailable = errors.New("transcription engine unavailable")

// Request describes one transcription run.
type Request struct {
	// AudioFile is the input track (full mix or one isolated speaker).
	AudioFile string
	// OutputDir receives the generated chart and any intermediate files.
	OutputDir string
	// Language is an ISO 639-1 code.
	Language     string
	WhisperModel string
	CrepeModel   string
	ForceCPU     bool
}

// Engine is a chart generator.
type Engine interface {
	// Transcribe generates a chart for req and returns its path. report gets
	// the engine's own progress fraction (0..1) and a display message.
	Transcribe(ctx context.Context, req Request, report func(float64, string)) (string, error)

	// HealthCheck reports whether the engine can take work right now.
	HealthCheck(ctx context.Context) (bool, error)

	// Name identifies the engine in logs, metrics and /api/health.
	Name() string
}

// stageMarker maps a substring of UltraSinger's console output to a progress
// fraction. Order matters: the first match wins.
type stageMarker struct {
	needle   string
	fraction float64
	message  string
}

var ultraSingerStages = []stageMarker{
	{"Separating vocals", 0.10, "Separating vocals..."},
	{"Transcribing", 0.30, "Transcribing lyrics..."},
	{"whisper", 0.30, "Transcribing lyrics..."},
	{"Pitching", 0.60, "Detecting pitch..."},
	{"crepe", 0.60, "Detecting pitch..."},
	{"Creating UltraStar", 0.85, "Creating UltraStar file..."},
	{"Writing", 0.90, "Writing output files..."},
}

// matchStage returns the progress a console line announces, if any.
func matchStage(line string) (stageMarker, bool) {
	for _, m := range ultraSingerStages {
		if strings.Contains(line, m.needle) {
			return m, true
		}
	}
	return stageMarker{}, false
}

// findChart returns the newest .txt file under dir modified at or after since.
// UltraSinger nests its output in a folder named after the input file.
func findChart(dir string, since time.Time) (string, error) {
	var best string
	var bestMod time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".txt") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mod := info.ModTime()
		if mod.Before(since) {
			return nil
		}
		if best == "" || mod.After(bestMod) {
			best, bestMod = path, mod
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan output dir: %w", err)
	}
	if best == "" {
		return "", fmt.Errorf("no chart produced in %s", dir)
	}
	return best, nil
}

func nopReport(float64, string) {}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}
