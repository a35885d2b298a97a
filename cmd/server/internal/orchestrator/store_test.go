package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string, status Status, created time.Time) Job {
	return Job{ID: id, Status: status, CreatedAt: created, UpdatedAt: created, Version: 1}
}

func TestValidTransition(t *testing.T) {
	all := []Status{StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusQueued, StatusProcessing}:    true,
		{StatusQueued, StatusCancelled}:     true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusProcessing, StatusCancelled}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], validTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestJobStore(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get returns a copy", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("a", StatusQueued, base))

		j, ok := s.Get("a")
		require.True(t, ok)
		j.Title = "mutated"

		again, _ := s.Get("a")
		assert.Empty(t, again.Title)

		_, ok = s.Get("missing")
		assert.False(t, ok)
	})

	t.Run("update commits and bumps version", func(t *testing.T) {
		s := NewJobStore()
		s.now = func() time.Time { return base.Add(time.Minute) }
		s.Insert(newJob("a", StatusQueued, base))

		j, err := s.Update("a", func(j *Job) error {
			j.Status = StatusProcessing
			j.Progress.Percentage = 10
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, j.Status)
		assert.Equal(t, int64(2), j.Version)
		assert.Equal(t, base.Add(time.Minute), j.UpdatedAt)
	})

	t.Run("update rejects illegal transition without committing", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("a", StatusQueued, base))

		_, err := s.Update("a", func(j *Job) error {
			j.Status = StatusCompleted
			j.Title = "x"
			return nil
		})
		require.ErrorIs(t, err, errInvalidTransition)

		j, _ := s.Get("a")
		assert.Equal(t, StatusQueued, j.Status)
		assert.Empty(t, j.Title)
		assert.Equal(t, int64(1), j.Version)
	})

	t.Run("terminal jobs are immutable", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("a", StatusCompleted, base))

		j, err := s.Update("a", func(j *Job) error {
			j.Progress.Message = "late"
			return nil
		})
		require.ErrorIs(t, err, errJobTerminal)
		assert.Equal(t, StatusCompleted, j.Status)
	})

	t.Run("fn error aborts update", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("a", StatusQueued, base))
		boom := errors.New("boom")

		_, err := s.Update("a", func(j *Job) error {
			j.Title = "x"
			return boom
		})
		require.ErrorIs(t, err, boom)
		j, _ := s.Get("a")
		assert.Empty(t, j.Title)
	})

	t.Run("update of missing job is not found", func(t *testing.T) {
		_, err := NewJobStore().Update("nope", func(*Job) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list is newest first", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("old", StatusCompleted, base))
		s.Insert(newJob("new", StatusQueued, base.Add(2*time.Second)))
		s.Insert(newJob("mid", StatusFailed, base.Add(time.Second)))

		var ids []string
		for _, j := range s.List() {
			ids = append(ids, j.ID)
		}
		assert.Equal(t, []string{"new", "mid", "old"}, ids)
		assert.Equal(t, 3, s.Len())
	})

	t.Run("queue position counts earlier queued jobs", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("running", StatusProcessing, base))
		s.Insert(newJob("q1", StatusQueued, base.Add(time.Second)))
		s.Insert(newJob("q2", StatusQueued, base.Add(2*time.Second)))
		s.Insert(newJob("q3", StatusQueued, base.Add(3*time.Second)))

		assert.Equal(t, 0, s.QueuePosition("running"))
		assert.Equal(t, 1, s.QueuePosition("q1"))
		assert.Equal(t, 2, s.QueuePosition("q2"))
		assert.Equal(t, 3, s.QueuePosition("q3"))
		assert.Equal(t, 0, s.QueuePosition("missing"))
	})

	t.Run("remove", func(t *testing.T) {
		s := NewJobStore()
		s.Insert(newJob("a", StatusQueued, base))

		j, ok := s.Remove("a")
		require.True(t, ok)
		assert.Equal(t, "a", j.ID)
		_, ok = s.Remove("a")
		assert.False(t, ok)
		assert.Equal(t, 0, s.Len())
	})
}

func TestJobSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    JobSpec
		wantErr bool
	}{
		{"remote ok", JobSpec{Source: SourceRemote, RemoteURL: "https://www.youtube.com/watch?v=x", Language: "en", Quality: QualityFast}, false},
		{"upload ok", JobSpec{Source: SourceUpload, UploadedFile: "/data/uploads/a.mp3", Language: "de", Quality: QualityAccurate}, false},
		{"remote without url", JobSpec{Source: SourceRemote, Language: "en", Quality: QualityFast}, true},
		{"remote relative url", JobSpec{Source: SourceRemote, RemoteURL: "watch?v=x", Language: "en", Quality: QualityFast}, true},
		{"upload without file", JobSpec{Source: SourceUpload, Language: "en", Quality: QualityFast}, true},
		{"unknown source", JobSpec{Source: "ftp", Language: "en", Quality: QualityFast}, true},
		{"unknown quality", JobSpec{Source: SourceUpload, UploadedFile: "a.mp3", Language: "en", Quality: "ultra"}, true},
		{"missing language", JobSpec{Source: SourceUpload, UploadedFile: "a.mp3", Quality: QualityBalanced}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSpec)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModelsFor(t *testing.T) {
	m, err := ModelsFor(QualityBalanced)
	require.NoError(t, err)
	assert.Equal(t, ModelTier{Whisper: "small", Crepe: "medium"}, m)

	m, _ = ModelsFor(QualityFast)
	assert.Equal(t, ModelTier{Whisper: "tiny", Crepe: "tiny"}, m)
	m, _ = ModelsFor(QualityAccurate)
	assert.Equal(t, ModelTier{Whisper: "medium", Crepe: "full"}, m)

	_, err = ModelsFor("best")
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestOrchErrorIs(t *testing.T) {
	err := NewCollaboratorError(StageTranscribing, errors.New("exit status 1"))
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.NotErrorIs(t, err, ErrMerge)
	assert.Equal(t, "[COLLABORATOR_FAILURE] transcribing failed: exit status 1", err.Error())
	assert.Equal(t, COLLABORATOR_FAILURE, errorCodeOf(err))
	assert.Equal(t, ErrorCode(""), errorCodeOf(errors.New("plain")))
}
