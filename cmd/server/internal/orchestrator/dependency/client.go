package dependency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/singstudio/pkg/duet"
)

const (
	acquireTimeout  = 15 * time.Minute
	diarizeTimeout  = 10 * time.Minute
	splitTimeout    = 10 * time.Minute
	segmentGapSecs  = 0.1
	mediaLinePrefix = "SINGSTUDIO_MEDIA\t"
)

// ErrNoSegments is returned by Split when there is nothing to extract.
var ErrNoSegments = errors.New("no speaker segments to extract")

var ytdlpProgress = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

// DependencyClient is the facade the orchestrator uses to reach the media
// engines without caring whether they run locally or behind the service.
//
// Each method builds a CommandRequest, validates it, executes it and turns the
// engine's output into a domain value.
type DependencyClient struct {
	executor    DependencyExecutor
	config      ExecutorConfig
	pathManager *PathManager
	log         *slog.Logger
}

// NewClient creates a DependencyClient with the executor selected by config.Mode.
func NewClient(config ExecutorConfig) (*DependencyClient, error) {
	var executor DependencyExecutor
	switch config.Mode {
	case ModeLocal:
		executor = NewLocalExecutor(config)
	case ModeRemote:
		executor = NewRemoteExecutor(config)
	case ModeFallback:
		executor = NewFallbackExecutor(config)
	default:
		return nil, fmt.Errorf("invalid execution mode: %s (must be 'local', 'remote', or 'fallback')", config.Mode)
	}
	return NewClientWithExecutor(config, executor), nil
}

// NewClientWithExecutor wires a client around an existing executor.
func NewClientWithExecutor(config ExecutorConfig, executor DependencyExecutor) *DependencyClient {
	if config.Device == "" {
		config.Device = "cpu"
	}
	return &DependencyClient{
		executor:    executor,
		config:      config,
		pathManager: NewPathManager(config.DataDir),
		log:         slog.Default().With("component", "dependency_client"),
	}
}

// run validates and executes req and turns a non-zero exit into an error.
func (c *DependencyClient) run(ctx context.Context, what string, req CommandRequest) (CommandResponse, error) {
	if err := ValidateCommandRequest(req, c.config); err != nil {
		c.log.Error("command validation failed", "what", what, "error", err)
		return CommandResponse{}, fmt.Errorf("command validation failed: %w", err)
	}

	c.log.Debug("executing command", "what", what, "command", req.Command, "args", req.Args)
	resp, err := c.executor.ExecuteCommand(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("%s failed: %w", what, err)
	}
	if !resp.Success || resp.ExitCode != 0 {
		return resp, fmt.Errorf("%s failed (exit code %d): %s", what, resp.ExitCode, strings.TrimSpace(resp.Stderr))
	}
	return resp, nil
}

// ConvertAudio converts audio to 16 kHz mono WAV, the input format of the
// diarization model.
func (c *DependencyClient) ConvertAudio(ctx context.Context, inputPath, outputPath string) error {
	req := CommandRequest{
		Command: CmdFFmpeg,
		Args: []string{
			"-y",
			"-i", inputPath,
			"-ar", "16000",
			"-ac", "1",
			outputPath,
		},
		Timeout: c.config.DefaultTimeout,
	}
	_, err := c.run(ctx, "audio conversion", req)
	return err
}

// Acquire downloads the audio track of url into dir as MP3 with yt-dlp.
// report receives the download fraction (0..1) and a display message.
func (c *DependencyClient) Acquire(ctx context.Context, url, dir string, report func(float64, string)) (Media, error) {
	if report == nil {
		report = func(float64, string) {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Media{}, fmt.Errorf("failed to create download directory: %w", err)
	}

	report(0, "Downloading from YouTube...")
	req := CommandRequest{
		Command: CmdYTDLP,
		Args: []string{
			"--no-playlist",
			"--extract-audio",
			"--audio-format", "mp3",
			"--audio-quality", "0",
			"--newline",
			"--progress",
			"--print", "after_move:" + mediaLinePrefix + "%(title)s\t%(artist,creator,uploader|)s\t%(filepath)s",
			"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
			url,
		},
		Timeout: acquireTimeout,
		OnLine: func(line string) {
			if m := ytdlpProgress.FindStringSubmatch(line); m != nil {
				if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
					report(pct/100, fmt.Sprintf("Downloading: %.1f%%", pct))
				}
			}
		},
	}

	resp, err := c.run(ctx, "download", req)
	if err != nil {
		return Media{}, err
	}
	media, err := parseMediaLine(resp.Stdout)
	if err != nil {
		return Media{}, err
	}
	if _, err := os.Stat(media.AudioFile); err != nil {
		return Media{}, fmt.Errorf("downloaded audio not found: %w", err)
	}
	report(1, "Download complete")
	c.log.Info("audio acquired", "url", url, "file", media.AudioFile, "title", media.Title)
	return media, nil
}

func parseMediaLine(stdout string) (Media, error) {
	for _, line := range strings.Split(stdout, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r"), mediaLinePrefix)
		if !ok {
			continue
		}
		parts := strings.SplitN(rest, "\t", 3)
		if len(parts) != 3 || parts[2] == "" {
			return Media{}, fmt.Errorf("malformed download metadata: %q", rest)
		}
		return Media{Title: parts[0], Artist: parts[1], AudioFile: parts[2]}, nil
	}
	return Media{}, errors.New("download finished without reporting an output file")
}

type diarizationOutput struct {
	Segments []duet.SpeakerSegment `json:"segments"`
}

// Diarize runs the pyannote script on audio and groups the turns by speaker.
// A nil result with a nil error means diarization is not configured.
func (c *DependencyClient) Diarize(ctx context.Context, audio, dir string, minSpeakers, maxSpeakers int) (duet.Segments, error) {
	if c.config.DiarizationScript == "" {
		c.log.Warn("diarization script not configured, speaker detection unavailable")
		return nil, nil
	}

	work := DiarizationDir(dir)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diarization directory: %w", err)
	}
	wav := filepath.Join(work, "input.wav")
	if err := c.ConvertAudio(ctx, audio, wav); err != nil {
		return nil, err
	}

	args := []string{c.config.DiarizationScript, "--input", wav, "--device", c.config.Device}
	if minSpeakers > 0 {
		args = append(args, "--min-speakers", strconv.Itoa(minSpeakers))
	}
	if maxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(maxSpeakers))
	}
	env := map[string]string{}
	if c.config.HFToken != "" {
		env["HUGGINGFACE_TOKEN"] = c.config.HFToken
	}

	resp, err := c.run(ctx, "speaker diarization", CommandRequest{
		Command: CmdPython,
		Args:    args,
		Env:     env,
		Timeout: diarizeTimeout,
	})
	if err != nil {
		return nil, err
	}

	// pyannote writes JSON to stdout
	if err := os.WriteFile(filepath.Join(work, "segments.json"), []byte(resp.Stdout), 0o644); err != nil {
		c.log.Warn("failed to keep diarization output", "error", err)
	}
	var out diarizationOutput
	if err := json.Unmarshal([]byte(resp.Stdout), &out); err != nil {
		return nil, fmt.Errorf("failed to parse diarization output: %w", err)
	}

	segs := make(duet.Segments)
	for _, s := range out.Segments {
		if s.SpeakerID == "" || s.End <= s.Start {
			continue
		}
		segs[s.SpeakerID] = append(segs[s.SpeakerID], s)
	}
	c.log.Info("speaker diarization completed", "audio", audio, "speakers", segs.SpeakerCount())
	return segs, nil
}

// Split cuts segs out of audio, joins them in time order with a short
// silence between neighbours and writes the result to out.
func (c *DependencyClient) Split(ctx context.Context, audio string, segs []duet.SpeakerSegment, out string) error {
	if len(segs) == 0 {
		return ErrNoSegments
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("failed to create speaker directory: %w", err)
	}

	script := out + ".filter"
	if err := os.WriteFile(script, []byte(splitFilter(segs)), 0o644); err != nil {
		return fmt.Errorf("failed to write split filter: %w", err)
	}
	defer os.Remove(script)

	_, err := c.run(ctx, "speaker split", CommandRequest{
		Command: CmdFFmpeg,
		Args: []string{
			"-y",
			"-i", audio,
			"-filter_complex_script", script,
			"-map", "[out]",
			out,
		},
		Timeout: splitTimeout,
	})
	return err
}

// splitFilter builds the ffmpeg filter graph for Split. Silences are cut from
// the input itself and muted so every concat input shares one sample format.
func splitFilter(segs []duet.SpeakerSegment) string {
	sorted := duet.Segments{"": segs}.Sorted("")

	var b strings.Builder
	var labels []string
	for i, s := range sorted {
		if i > 0 {
			fmt.Fprintf(&b, "[0:a]atrim=start=0:end=%.3f,volume=0,asetpts=PTS-STARTPTS[g%d];\n", segmentGapSecs, i)
			labels = append(labels, fmt.Sprintf("[g%d]", i))
		}
		fmt.Fprintf(&b, "[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[s%d];\n", s.Start, s.End, i)
		labels = append(labels, fmt.Sprintf("[s%d]", i))
	}
	fmt.Fprintf(&b, "%sconcat=n=%d:v=0:a=1[out]", strings.Join(labels, ""), len(labels))
	return b.String()
}

// HealthCheck delegates to the executor.
func (c *DependencyClient) HealthCheck(ctx context.Context) error {
	return c.executor.HealthCheck(ctx)
}

// Mode reports the execution mode currently in effect. For a fallback
// executor this is whichever side it is using right now.
func (c *DependencyClient) Mode() ExecutionMode {
	if fe, ok := c.executor.(*FallbackExecutor); ok {
		return fe.PrimaryMode()
	}
	return c.config.Mode
}

// PathManager returns the path manager for the job directory layout.
func (c *DependencyClient) PathManager() *PathManager {
	return c.pathManager
}

// Config returns the executor configuration (read-only access).
func (c *DependencyClient) Config() ExecutorConfig {
	return c.config
}

// ExecuteCommand executes a command request directly through the executor.
// The transcriber uses it to run UltraSinger with the same mode selection.
func (c *DependencyClient) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	return c.executor.ExecuteCommand(ctx, req)
}
