package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// TransferHandler reports live and persisted transfer state
type TransferHandler struct {
	store      port.Store
	controller Controller
	logger     *zap.Logger
}

// NewTransferHandler creates a new TransferHandler
func NewTransferHandler(store port.Store, controller Controller, logger *zap.Logger) *TransferHandler {
	return &TransferHandler{
		store:      store,
		controller: controller,
		logger:     logger,
	}
}

type transferResponse struct {
	BookID            string           `json:"book_id"`
	State             domain.TaskState `json:"state"`
	TotalBytesWritten int64            `json:"total_bytes_written"`
	Active            bool             `json:"active"`
	BytesWritten      int64            `json:"bytes_written,omitempty"`
	Session           string           `json:"session,omitempty"`
}

type transfersResponse struct {
	Transfers  []transferResponse `json:"transfers"`
	Stats      *domain.TaskStats  `json:"stats"`
	FlushArmed bool               `json:"flush_armed"`
}

// HandleList merges the manager's in-memory view with persisted tasks
func (h *TransferHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.controller.Snapshot(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrManagerStopped) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.logger.Error("failed to get transfer snapshot", zap.Error(err))
		http.Error(w, "Failed to get transfers", http.StatusInternalServerError)
		return
	}

	tasks, err := h.store.ListTasks()
	if err != nil {
		h.logger.Error("failed to list download tasks", zap.Error(err))
		http.Error(w, "Failed to list download tasks", http.StatusInternalServerError)
		return
	}

	stats, err := h.store.GetTaskStats()
	if err != nil {
		h.logger.Error("failed to get task stats", zap.Error(err))
		http.Error(w, "Failed to get task stats", http.StatusInternalServerError)
		return
	}

	resp := transfersResponse{
		Transfers:  make([]transferResponse, 0, len(tasks)),
		Stats:      stats,
		FlushArmed: snapshot.FlushArmed,
	}
	for _, task := range tasks {
		t := transferResponse{
			BookID:            task.BookID,
			State:             task.State,
			TotalBytesWritten: task.TotalBytesWritten,
		}
		if written, ok := snapshot.Active[task.BookID]; ok {
			t.Active = true
			t.BytesWritten = written
			t.Session = snapshot.Sessions[task.BookID]
		}
		resp.Transfers = append(resp.Transfers, t)
	}
	sort.Slice(resp.Transfers, func(i, j int) bool {
		return resp.Transfers[i].BookID < resp.Transfers[j].BookID
	})

	writeJSON(w, http.StatusOK, resp)
}
