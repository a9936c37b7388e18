package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fleetwatch/internal/logger"
	"fleetwatch/internal/models"
)

func TestMain(m *testing.M) {
	logger.Init("disabled")
	m.Run()
}

type countingEvaluator struct {
	mu       sync.Mutex
	seen     []string
	err      error
	panicsOn string
}

func (e *countingEvaluator) Evaluate(_ context.Context, reading *models.TelemetryReading) ([]models.Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if reading.ID == e.panicsOn {
		panic("evaluator exploded")
	}
	e.seen = append(e.seen, reading.ID)
	return nil, e.err
}

func (e *countingEvaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}

func reading(id string) *models.TelemetryReading {
	return &models.TelemetryReading{
		ID:         id,
		MachineID:  "machine-001",
		RecordedAt: time.Now().UTC(),
		Readings:   map[string]float64{"Temperature": 22},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolProcessesReadings(t *testing.T) {
	eval := &countingEvaluator{}
	ch := make(chan *models.TelemetryReading, 16)

	pool := NewPool(Config{Evaluator: eval, ReadingChan: ch, Workers: 3})
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 10; i++ {
		ch <- reading("rdg")
	}

	waitFor(t, func() bool { return eval.count() == 10 })

	stats := pool.Stats()
	if stats.Processed != 10 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 10 processed, 0 failed", stats)
	}
}

func TestPoolCountsFailures(t *testing.T) {
	eval := &countingEvaluator{err: errors.New("store down")}
	ch := make(chan *models.TelemetryReading, 4)

	pool := NewPool(Config{Evaluator: eval, ReadingChan: ch, Workers: 1})
	pool.Start()
	defer pool.Stop()

	ch <- reading("rdg")

	waitFor(t, func() bool { return pool.Stats().Failed == 1 })

	if pool.Stats().Processed != 0 {
		t.Errorf("processed = %d, want 0", pool.Stats().Processed)
	}
}

func TestPoolDrainsQueueOnStop(t *testing.T) {
	eval := &countingEvaluator{}
	ch := make(chan *models.TelemetryReading, 16)

	for i := 0; i < 8; i++ {
		ch <- reading("rdg")
	}

	pool := NewPool(Config{Evaluator: eval, ReadingChan: ch, Workers: 2})
	pool.Start()
	pool.Stop()

	if got := eval.count(); got != 8 {
		t.Errorf("drained %d readings, want 8", got)
	}
}

func TestPoolStopsOnClosedChannel(t *testing.T) {
	eval := &countingEvaluator{}
	ch := make(chan *models.TelemetryReading, 4)

	pool := NewPool(Config{Evaluator: eval, ReadingChan: ch, Workers: 2})
	pool.Start()

	ch <- reading("rdg")
	close(ch)

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after channel close")
	}
	if eval.count() != 1 {
		t.Errorf("processed %d readings before close, want 1", eval.count())
	}
}
