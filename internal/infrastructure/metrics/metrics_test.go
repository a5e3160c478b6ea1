package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserveAllocation(t *testing.T) {
	m := New()

	m.ObserveAllocation("simple", "OK", 3, 20*time.Millisecond)
	m.ObserveAllocation("simple", "OK", 2, 10*time.Millisecond)
	m.ObserveAllocation("compound", "RANGE_EXHAUSTED", 1000, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Allocations.WithLabelValues("simple", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Allocations.WithLabelValues("compound", "RANGE_EXHAUSTED")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Serials.WithLabelValues("simple")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Serials.WithLabelValues("compound")), "failures issue nothing")
}

func TestMetrics_QueueAndMirror(t *testing.T) {
	m := New()

	m.SetQueueDepth(4)
	m.ObserveMirror(nil)
	m.ObserveMirror(errors.New("down"))
	m.MirrorDrop()

	assert.Equal(t, 4.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorPushes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorPushes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MirrorDropped))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveAllocation("simple", "OK", 1, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `barcodeseq_allocations_total{code="OK",kind="simple"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
