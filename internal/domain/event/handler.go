package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// LoggingHandler logs all events
type LoggingHandler struct {
	logger *zap.Logger
}

// NewLoggingHandler creates a new LoggingHandler
func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

// Handle logs the event
func (h *LoggingHandler) Handle(event DomainEvent) error {
	switch e := event.(type) {
	case DownloadStarted:
		h.logger.Info("download started",
			zap.String("book_id", e.BookID),
			zap.String("session", e.Session),
			zap.Int64("size", e.Size),
			zap.Bool("resumed", e.Resumed),
		)
	case DownloadPaused:
		h.logger.Info("download paused", zap.String("book_id", e.BookID))
	case DownloadCancelled:
		h.logger.Info("download cancelled",
			zap.String("book_id", e.BookID),
			zap.String("book_state", e.BookState),
		)
	case DownloadCompleted:
		h.logger.Info("download completed",
			zap.String("book_id", e.BookID),
			zap.String("path", e.Path),
			zap.Int64("size", e.Size),
			zap.Duration("duration", e.Duration),
		)
	case DownloadFailed:
		h.logger.Warn("download failed",
			zap.String("book_id", e.BookID),
			zap.String("error", e.Error),
			zap.Bool("resumable", e.Resumable),
			zap.Bool("retrying", e.Retrying),
		)
	default:
		h.logger.Debug("domain event",
			zap.String("event", event.EventName()),
			zap.Time("occurred_at", event.OccurredAt()),
		)
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *LoggingHandler) HandledEvents() []string {
	return []string{"*"} // Handle all events
}

// MetricsHandler exports download lifecycle counters to Prometheus
type MetricsHandler struct {
	events          *prometheus.CounterVec
	bytesDownloaded prometheus.Counter
}

// NewMetricsHandler creates a MetricsHandler and registers its collectors with reg
func NewMetricsHandler(reg prometheus.Registerer) (*MetricsHandler, error) {
	h := &MetricsHandler{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "book_downloader",
			Name:      "download_events_total",
			Help:      "Download lifecycle events by name.",
		}, []string{"event"}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "book_downloader",
			Name:      "downloaded_bytes_total",
			Help:      "Declared size of books that finished downloading.",
		}),
	}

	for _, c := range []prometheus.Collector{h.events, h.bytesDownloaded} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Handle updates metrics based on the event
func (h *MetricsHandler) Handle(event DomainEvent) error {
	h.events.WithLabelValues(event.EventName()).Inc()
	if e, ok := event.(DownloadCompleted); ok && e.Size > 0 {
		h.bytesDownloaded.Add(float64(e.Size))
	}
	return nil
}

// HandledEvents returns the events this handler handles
func (h *MetricsHandler) HandledEvents() []string {
	return []string{
		NameDownloadStarted,
		NameDownloadPaused,
		NameDownloadCancelled,
		NameDownloadCompleted,
		NameDownloadFailed,
	}
}
