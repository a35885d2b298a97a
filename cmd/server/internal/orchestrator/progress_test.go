package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandScale(t *testing.T) {
	assert.Equal(t, 20.0, bandSolo.scale(0))
	assert.Equal(t, 60.0, bandSolo.scale(0.5))
	assert.Equal(t, 100.0, bandSolo.scale(1))
	assert.Equal(t, 100.0, bandSolo.scale(3))
	assert.Equal(t, 0.0, bandAcquire.scale(-1))
	assert.Equal(t, 52.5, bandSpeaker1.scale(0.5))
	assert.Equal(t, 90.0, bandSpeaker2.scale(1))
}

func snapshotOf(ev ProgressEvent) func() (ProgressEvent, bool) {
	return func() (ProgressEvent, bool) { return ev, true }
}

func TestProgressHub(t *testing.T) {
	t.Run("snapshot first then events", func(t *testing.T) {
		h := newProgressHub(8)
		sub, ok := h.subscribe("j", snapshotOf(ProgressEvent{JobID: "j", Status: StatusQueued}))
		require.True(t, ok)
		assert.Equal(t, "j", sub.JobID())

		h.publish(ProgressEvent{JobID: "j", Status: StatusProcessing, Percentage: 10})
		h.publish(ProgressEvent{JobID: "other", Status: StatusProcessing, Percentage: 99})
		h.publish(ProgressEvent{JobID: "j", Status: StatusCompleted, Percentage: 100})

		var got []ProgressEvent
		for ev := range sub.Events() {
			got = append(got, ev)
		}
		require.Len(t, got, 3)
		assert.Equal(t, StatusQueued, got[0].Status)
		assert.Equal(t, 10.0, got[1].Percentage)
		assert.Equal(t, StatusCompleted, got[2].Status)
		assert.Equal(t, 0, h.count("j"))
	})

	t.Run("unknown job", func(t *testing.T) {
		h := newProgressHub(8)
		_, ok := h.subscribe("j", func() (ProgressEvent, bool) { return ProgressEvent{}, false })
		assert.False(t, ok)
	})

	t.Run("terminal snapshot closes immediately", func(t *testing.T) {
		h := newProgressHub(8)
		sub, ok := h.subscribe("j", snapshotOf(ProgressEvent{JobID: "j", Status: StatusFailed}))
		require.True(t, ok)
		ev, open := <-sub.Events()
		assert.True(t, open)
		assert.Equal(t, StatusFailed, ev.Status)
		_, open = <-sub.Events()
		assert.False(t, open)
		sub.Close()
	})

	t.Run("slow subscriber is pruned without blocking others", func(t *testing.T) {
		h := newProgressHub(2)
		slow, _ := h.subscribe("j", snapshotOf(ProgressEvent{JobID: "j", Status: StatusProcessing}))
		fast, _ := h.subscribe("j", snapshotOf(ProgressEvent{JobID: "j", Status: StatusProcessing}))
		<-fast.Events()

		h.publish(ProgressEvent{JobID: "j", Status: StatusProcessing, Percentage: 1})
		<-fast.Events()
		// slow 缓冲区已满（快照 + 1），下一次投递将其剔除
		h.publish(ProgressEvent{JobID: "j", Status: StatusProcessing, Percentage: 2})

		assert.Equal(t, 1, h.count("j"))
		n := 0
		for range slow.Events() {
			n++
		}
		assert.Equal(t, 2, n)

		ev := <-fast.Events()
		assert.Equal(t, 2.0, ev.Percentage)
	})

	t.Run("close and drop are idempotent", func(t *testing.T) {
		h := newProgressHub(4)
		a, _ := h.subscribe("j", snapshotOf(ProgressEvent{JobID: "j", Status: StatusQueued}))
		b, _ := h.subscribe("j", snapshotOf(ProgressEvent{JobID: "j", Status: StatusQueued}))

		a.Close()
		a.Close()
		assert.Equal(t, 1, h.count("j"))

		h.drop("j")
		h.drop("j")
		b.Close()
		assert.Equal(t, 0, h.count("j"))
	})
}

func TestEventFromJob(t *testing.T) {
	ev := EventFromJob(Job{ID: "j", Status: StatusQueued})
	assert.Nil(t, ev.Stage)

	ev = EventFromJob(Job{ID: "j", Status: StatusProcessing, Progress: Progress{Stage: StageTranscribing, Percentage: 42, Message: "x"}})
	require.NotNil(t, ev.Stage)
	assert.Equal(t, StageTranscribing, *ev.Stage)
	assert.Equal(t, 42.0, ev.Percentage)
}
