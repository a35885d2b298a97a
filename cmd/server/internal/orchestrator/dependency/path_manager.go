package dependency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathManager lays out the per-job working directory:
//
//	{dataDir}/{jobID}/
//	    {title}.mp3                 acquired audio
//	    diarization/input.wav       16 kHz mono copy for pyannote
//	    diarization/segments.json   raw diarization output
//	    speaker_1/speaker_1_vocals.wav
//	    speaker_2/speaker_2_vocals.wav
//	    {title}_duet.txt
type PathManager struct {
	baseDir string
}

// NewPathManager creates a new PathManager instance.
func NewPathManager(baseDir string) *PathManager {
	return &PathManager{baseDir: baseDir}
}

// JobDir returns the root directory of a job.
func (pm *PathManager) JobDir(jobID string) string {
	return filepath.Join(pm.baseDir, jobID)
}

// DiarizationDir returns the scratch directory for diarization inside dir.
func DiarizationDir(dir string) string {
	return filepath.Join(dir, "diarization")
}

// SpeakerDir returns the working directory of speaker n (1 or 2) inside dir.
func SpeakerDir(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("speaker_%d", n))
}

// SpeakerAudioPath returns the isolated vocal track of speaker n inside dir.
func SpeakerAudioPath(dir string, n int) string {
	return filepath.Join(SpeakerDir(dir, n), fmt.Sprintf("speaker_%d_vocals.wav", n))
}

// ValidatePath checks that path is inside the data dir and is not a symlink.
func (pm *PathManager) ValidatePath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains dangerous characters '..'")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	absBaseDir, err := filepath.Abs(pm.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	rel, err := filepath.Rel(absBaseDir, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside data dir (%s)", path, pm.baseDir)
	}

	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(absPath, prefix+string(filepath.Separator)) || absPath == prefix {
			return fmt.Errorf("access to system directory %s is forbidden", prefix)
		}
	}

	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("symbolic links are not allowed")
	}
	return nil
}

// EnsureJobDir creates the job directory if it doesn't exist.
func (pm *PathManager) EnsureJobDir(jobID string) (string, error) {
	dir := pm.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create job directory: %w", err)
	}
	return dir, nil
}
