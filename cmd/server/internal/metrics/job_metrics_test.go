package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSubmitted(t *testing.T) {
	JobsSubmittedTotal.Reset()

	RecordSubmitted("remote-fetch", true)
	RecordSubmitted("remote-fetch", false)
	RecordSubmitted("remote-fetch", false)

	m := &dto.Metric{}
	require.NoError(t, JobsSubmittedTotal.WithLabelValues("remote-fetch", "solo").Write(m))
	assert.Equal(t, 2.0, m.Counter.GetValue())

	m = &dto.Metric{}
	require.NoError(t, JobsSubmittedTotal.WithLabelValues("remote-fetch", "duet").Write(m))
	assert.Equal(t, 1.0, m.Counter.GetValue())
}

func TestRecordFinishedAndFallback(t *testing.T) {
	JobsFinishedTotal.Reset()

	before := &dto.Metric{}
	require.NoError(t, DuetFallbackTotal.Write(before))

	RecordFinished("failed")
	RecordDuetFallback()

	m := &dto.Metric{}
	require.NoError(t, JobsFinishedTotal.WithLabelValues("failed").Write(m))
	assert.Equal(t, 1.0, m.Counter.GetValue())

	after := &dto.Metric{}
	require.NoError(t, DuetFallbackTotal.Write(after))
	assert.Equal(t, before.Counter.GetValue()+1, after.Counter.GetValue())
}

func TestRecordStageDuration(t *testing.T) {
	StageDuration.Reset()
	assert.NotPanics(t, func() {
		RecordStageDuration("transcribing", 42)
	})
}
