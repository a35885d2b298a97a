package dependency

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/houzhh15/singstudio/pkg/duet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Doubles (Fakes)
// ============================================================================

// FakeExecutor is a test double for DependencyClient. Handler, when set,
// decides the response per request; otherwise the preset values are returned.
type FakeExecutor struct {
	ResponseToReturn CommandResponse
	ErrorToReturn    error
	Handler          func(req CommandRequest) (CommandResponse, error)

	ExecutedCommands  []CommandRequest
	HealthCheckCalled bool
}

func (f *FakeExecutor) ExecuteCommand(ctx context.Context, req CommandRequest) (CommandResponse, error) {
	f.ExecutedCommands = append(f.ExecutedCommands, req)
	if f.Handler != nil {
		return f.Handler(req)
	}
	if req.OnLine != nil {
		for _, l := range strings.Split(f.ResponseToReturn.Stdout, "\n") {
			req.OnLine(l)
		}
	}
	return f.ResponseToReturn, f.ErrorToReturn
}

func (f *FakeExecutor) HealthCheck(ctx context.Context) error {
	f.HealthCheckCalled = true
	return f.ErrorToReturn
}

func newTestClient(t *testing.T, fake *FakeExecutor, mutate ...func(*ExecutorConfig)) (*DependencyClient, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := ExecutorConfig{Mode: ModeLocal, DataDir: dir, DefaultTimeout: time.Minute}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClientWithExecutor(cfg, fake), dir
}

// ============================================================================
// DependencyClient Tests
// ============================================================================

func TestDependencyClient_ConvertAudio(t *testing.T) {
	fake := &FakeExecutor{ResponseToReturn: CommandResponse{Success: true}}
	client, dir := newTestClient(t, fake)

	in, out := filepath.Join(dir, "in.mp3"), filepath.Join(dir, "out.wav")
	require.NoError(t, client.ConvertAudio(context.Background(), in, out))

	require.Len(t, fake.ExecutedCommands, 1)
	cmd := fake.ExecutedCommands[0]
	assert.Equal(t, CmdFFmpeg, cmd.Command)
	assert.Equal(t, []string{"-y", "-i", in, "-ar", "16000", "-ac", "1", out}, cmd.Args)
}

func TestDependencyClient_ConvertAudio_Failure(t *testing.T) {
	fake := &FakeExecutor{ResponseToReturn: CommandResponse{ExitCode: 1, Stderr: "invalid input format\n"}}
	client, dir := newTestClient(t, fake)

	err := client.ConvertAudio(context.Background(), filepath.Join(dir, "a"), filepath.Join(dir, "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit code 1")
	assert.Contains(t, err.Error(), "invalid input format")

	fake = &FakeExecutor{ErrorToReturn: errors.New("connection refused")}
	client, dir = newTestClient(t, fake)
	err = client.ConvertAudio(context.Background(), filepath.Join(dir, "a"), filepath.Join(dir, "b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio conversion failed")
}

func TestDependencyClient_Acquire(t *testing.T) {
	fake := &FakeExecutor{}
	client, dir := newTestClient(t, fake)
	audio := filepath.Join(dir, "dQw4w9WgXcQ.mp3")
	require.NoError(t, os.WriteFile(audio, []byte("mp3"), 0o644))

	fake.ResponseToReturn = CommandResponse{
		Success: true,
		Stdout: "[download]  25.0% of 3.1MiB\n[download] 100.0% of 3.1MiB\n" +
			mediaLinePrefix + "Never Gonna Give You Up\tRick Astley\t" + audio + "\n",
	}

	var fractions []float64
	media, err := client.Acquire(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ", dir,
		func(f float64, msg string) { fractions = append(fractions, f) })

	require.NoError(t, err)
	assert.Equal(t, Media{AudioFile: audio, Title: "Never Gonna Give You Up", Artist: "Rick Astley"}, media)
	assert.Equal(t, []float64{0, 0.25, 1, 1}, fractions)

	require.Len(t, fake.ExecutedCommands, 1)
	cmd := fake.ExecutedCommands[0]
	assert.Equal(t, CmdYTDLP, cmd.Command)
	assert.Contains(t, cmd.Args, "--no-playlist")
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", cmd.Args[len(cmd.Args)-1])
}

func TestDependencyClient_Acquire_NoOutputFile(t *testing.T) {
	fake := &FakeExecutor{ResponseToReturn: CommandResponse{Success: true, Stdout: "[download] 100%\n"}}
	client, dir := newTestClient(t, fake)

	_, err := client.Acquire(context.Background(), "https://example.com/v", dir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without reporting an output file")
}

func TestParseMediaLine(t *testing.T) {
	m, err := parseMediaLine("noise\r\n" + mediaLinePrefix + "Song\t\t/data/x.mp3\r\n")
	require.NoError(t, err)
	assert.Equal(t, Media{Title: "Song", AudioFile: "/data/x.mp3"}, m)

	_, err = parseMediaLine(mediaLinePrefix + "only-title\n")
	assert.Error(t, err)
}

func TestDependencyClient_Diarize_NotConfigured(t *testing.T) {
	fake := &FakeExecutor{}
	client, dir := newTestClient(t, fake)

	segs, err := client.Diarize(context.Background(), filepath.Join(dir, "a.mp3"), dir, 2, 2)
	assert.NoError(t, err)
	assert.Nil(t, segs)
	assert.Empty(t, fake.ExecutedCommands)
}

func TestDependencyClient_Diarize(t *testing.T) {
	fake := &FakeExecutor{}
	fake.Handler = func(req CommandRequest) (CommandResponse, error) {
		if req.Command == CmdFFmpeg {
			return CommandResponse{Success: true}, nil
		}
		return CommandResponse{Success: true, Stdout: `{"segments": [
			{"start": 0.0, "end": 5.0, "speaker": "SPEAKER_00"},
			{"start": 5.0, "end": 7.5, "speaker": "SPEAKER_01"},
			{"start": 8.0, "end": 8.0, "speaker": "SPEAKER_01"},
			{"start": 9.0, "end": 12.0, "speaker": "SPEAKER_00"}
		]}`}, nil
	}
	client, dir := newTestClient(t, fake, func(c *ExecutorConfig) {
		c.DiarizationScript = "/opt/scripts/pyannote_diarize.py"
		c.HFToken = "hf_test"
	})

	segs, err := client.Diarize(context.Background(), filepath.Join(dir, "song.mp3"), dir, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, segs.SpeakerCount())
	assert.Len(t, segs["SPEAKER_00"], 2)
	assert.Len(t, segs["SPEAKER_01"], 1, "zero-length turns are dropped")

	require.Len(t, fake.ExecutedCommands, 2)
	assert.Equal(t, CmdFFmpeg, fake.ExecutedCommands[0].Command)
	py := fake.ExecutedCommands[1]
	assert.Equal(t, CmdPython, py.Command)
	assert.Equal(t, "/opt/scripts/pyannote_diarize.py", py.Args[0])
	assert.Contains(t, strings.Join(py.Args, " "), "--min-speakers 2 --max-speakers 2")
	assert.Contains(t, strings.Join(py.Args, " "), "--device cpu")
	assert.Equal(t, "hf_test", py.Env["HUGGINGFACE_TOKEN"])

	_, err = os.Stat(filepath.Join(DiarizationDir(dir), "segments.json"))
	assert.NoError(t, err)
}

func TestDependencyClient_Diarize_BadJSON(t *testing.T) {
	fake := &FakeExecutor{ResponseToReturn: CommandResponse{Success: true, Stdout: "Traceback..."}}
	client, dir := newTestClient(t, fake, func(c *ExecutorConfig) { c.DiarizationScript = "diarize.py" })

	_, err := client.Diarize(context.Background(), filepath.Join(dir, "song.mp3"), dir, 2, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse diarization output")
}

func TestDependencyClient_Split(t *testing.T) {
	var filter string
	fake := &FakeExecutor{}
	fake.Handler = func(req CommandRequest) (CommandResponse, error) {
		for i, a := range req.Args {
			if a == "-filter_complex_script" {
				data, err := os.ReadFile(req.Args[i+1])
				require.NoError(t, err)
				filter = string(data)
			}
		}
		return CommandResponse{Success: true}, nil
	}
	client, dir := newTestClient(t, fake)
	out := SpeakerAudioPath(dir, 1)

	err := client.Split(context.Background(), filepath.Join(dir, "song.mp3"), []duet.SpeakerSegment{
		{SpeakerID: "A", Start: 10, End: 12.5},
		{SpeakerID: "A", Start: 1, End: 3},
	}, out)
	require.NoError(t, err)

	assert.Equal(t, splitFilter([]duet.SpeakerSegment{{Start: 1, End: 3}, {Start: 10, End: 12.5}}), filter)
	assert.Equal(t, out, fake.ExecutedCommands[0].Args[len(fake.ExecutedCommands[0].Args)-1])

	_, err = os.Stat(out + ".filter")
	assert.True(t, os.IsNotExist(err), "filter script is removed after the run")

	assert.ErrorIs(t, client.Split(context.Background(), "a.mp3", nil, out), ErrNoSegments)
}

func TestSplitFilter(t *testing.T) {
	got := splitFilter([]duet.SpeakerSegment{{Start: 4, End: 6}, {Start: 0.5, End: 2}})
	want := "[0:a]atrim=start=0.500:end=2.000,asetpts=PTS-STARTPTS[s0];\n" +
		"[0:a]atrim=start=0:end=0.100,volume=0,asetpts=PTS-STARTPTS[g1];\n" +
		"[0:a]atrim=start=4.000:end=6.000,asetpts=PTS-STARTPTS[s1];\n" +
		"[s0][g1][s1]concat=n=3:v=0:a=1[out]"
	assert.Equal(t, want, got)
}

func TestDependencyClient_HealthCheckAndMode(t *testing.T) {
	fake := &FakeExecutor{}
	client, _ := newTestClient(t, fake)

	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.True(t, fake.HealthCheckCalled)
	assert.Equal(t, ModeLocal, client.Mode())
	assert.Equal(t, "cpu", client.Config().Device)
	assert.NotNil(t, client.PathManager())
}

func TestNewClient_Modes(t *testing.T) {
	tests := []struct {
		name    string
		mode    ExecutionMode
		wantErr bool
	}{
		{"模式 local", ModeLocal, false},
		{"模式 remote", ModeRemote, false},
		{"模式 fallback", ModeFallback, false},
		{"无效模式", ExecutionMode("invalid_mode"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(ExecutorConfig{Mode: tt.mode, DataDir: "/data", DefaultTimeout: 5 * time.Minute})
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), "invalid execution mode")
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client.executor)
			assert.Equal(t, tt.mode, client.Mode())
		})
	}
}
