package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/kestrelfleet/orchestrator/internal/types"
)

type fakeQueueSource struct {
	stats types.QueueStats
}

func (f *fakeQueueSource) Stats(ctx context.Context) (types.QueueStats, error) {
	return f.stats, nil
}

func TestCollectorRefreshesQueueDepthGauges(t *testing.T) {
	reg := NewRegistry()
	source := &fakeQueueSource{stats: types.QueueStats{
		QueueHigh: 3, QueueNormal: 5, QueueLow: 1, ActiveTasks: 2, AgentsInBackoff: 1,
	}}
	c := NewCollector(reg, source, nil)

	c.refresh(context.Background())

	require.Equal(t, 3.0, testutil.ToFloat64(reg.QueueDepth.WithLabelValues("high")))
	require.Equal(t, 5.0, testutil.ToFloat64(reg.QueueDepth.WithLabelValues("normal")))
	require.Equal(t, 1.0, testutil.ToFloat64(reg.QueueDepth.WithLabelValues("low")))
	require.Equal(t, 2.0, testutil.ToFloat64(reg.QueueActiveTasks))
	require.Equal(t, 1.0, testutil.ToFloat64(reg.QueueAgentsInBackoff))
}

func TestCollectorStartStop(t *testing.T) {
	reg := NewRegistry()
	source := &fakeQueueSource{}
	c := NewCollector(reg, source, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
