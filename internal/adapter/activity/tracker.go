package activity

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// Tracker is the process-wide network activity indicator.
// It is on while at least one book has a live transfer.
type Tracker struct {
	mu     sync.Mutex
	active map[string]struct{}
	logger *zap.Logger

	activeGauge prometheus.Gauge
	started     prometheus.Counter
	finished    prometheus.Counter
}

// Ensure Tracker implements port.ActivityTracker
var _ port.ActivityTracker = (*Tracker)(nil)

// New creates a Tracker and registers its collectors with reg
func New(reg prometheus.Registerer, logger *zap.Logger) (*Tracker, error) {
	t := &Tracker{
		active: make(map[string]struct{}),
		logger: logger,
		activeGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "book_downloader",
			Name:      "active_transfers",
			Help:      "Books with a live transfer.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "book_downloader",
			Name:      "transfers_started_total",
			Help:      "Transfers started or resumed.",
		}),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "book_downloader",
			Name:      "transfers_finished_total",
			Help:      "Transfers that ended for any reason.",
		}),
	}

	for _, c := range []prometheus.Collector{t.activeGauge, t.started, t.finished} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// TaskStarted marks bookID active; repeated calls are ignored
func (t *Tracker) TaskStarted(bookID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[bookID]; ok {
		return
	}
	t.active[bookID] = struct{}{}
	t.started.Inc()
	t.activeGauge.Set(float64(len(t.active)))

	if len(t.active) == 1 {
		t.logger.Debug("network activity started")
	}
}

// TaskFinished marks bookID inactive; unknown ids are ignored
func (t *Tracker) TaskFinished(bookID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[bookID]; !ok {
		return
	}
	delete(t.active, bookID)
	t.finished.Inc()
	t.activeGauge.Set(float64(len(t.active)))

	if len(t.active) == 0 {
		t.logger.Debug("network activity stopped")
	}
}

// Active reports whether any transfer is live
func (t *Tracker) Active() bool {
	return t.Count() > 0
}

// Count returns the number of live transfers
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Books returns the active book ids, sorted
func (t *Tracker) Books() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	sort.Strings(ids)
	return ids
}
