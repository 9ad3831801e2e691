package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santetogo/records-api/internal/model"
	"github.com/santetogo/records-api/internal/repository/memory"
	"github.com/santetogo/records-api/pkg/logger"
	"github.com/santetogo/records-api/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: &bytes.Buffer{}})
}

func TestAuditCleanupRemovesOldRows(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{400 * 24 * time.Hour, 366 * 24 * time.Hour, 10 * 24 * time.Hour, time.Hour} {
		require.NoError(t, store.Audit().Create(ctx, &model.AuditLog{
			ID:         uuid.New(),
			Action:     model.AuditActionUpdate,
			EntityType: model.AuditEntityPatient,
			EntityID:   uuid.New(),
			CreatedAt:  now.Add(-age),
		}))
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg, "santetogo", "worker")
	w := NewAuditCleanupWorker(store.Audit(), 365, time.Hour, testLogger(), m)
	w.now = func() time.Time { return now }

	n, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	var purged float64
	for _, f := range families {
		if f.GetName() == "santetogo_worker_audit_rows_purged_total" {
			purged = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), purged)
}

func TestAuditCleanupDisabled(t *testing.T) {
	w := NewAuditCleanupWorker(memory.NewStore().Audit(), 0, time.Millisecond, testLogger(), nil)
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled cleanup worker should return immediately")
	}
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []string
	fail bool
}

func (h *recordingHandler) Handle(_ context.Context, raw []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, string(raw))
	if h.fail {
		return errors.New("smtp down")
	}
	return nil
}

func TestNotifierConsumesUntilClosed(t *testing.T) {
	h := &recordingHandler{fail: true}
	n := NewNotifier(nil, "access-grants", h, testLogger())

	msgs := make(chan []byte, 2)
	msgs <- []byte(`{"type":"access.requested"}`)
	msgs <- []byte(`{"type":"access.approved"}`)
	close(msgs)

	require.NoError(t, n.Consume(context.Background(), msgs))
	assert.Len(t, h.seen, 2, "a failing message does not stop the loop")
}

func TestNotifierStopsOnCancel(t *testing.T) {
	n := NewNotifier(nil, "access-grants", &recordingHandler{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, n.Consume(ctx, make(chan []byte)))
}
