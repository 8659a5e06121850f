package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// BookHandler handles book catalogue and download control requests
type BookHandler struct {
	store      port.Store
	controller Controller
	logger     *zap.Logger
}

// NewBookHandler creates a new BookHandler
func NewBookHandler(store port.Store, controller Controller, logger *zap.Logger) *BookHandler {
	return &BookHandler{
		store:      store,
		controller: controller,
		logger:     logger,
	}
}

// Routes returns the /books router
func (h *BookHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.HandleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.HandleGet)
		r.Put("/", h.HandlePut)
		r.Post("/start", h.HandleStart)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
		r.Post("/cancel", h.HandleCancel)
	})

	return r
}

type taskResponse struct {
	State             domain.TaskState `json:"state"`
	TotalBytesWritten int64            `json:"total_bytes_written"`
	Progress          float64          `json:"progress"`
}

type bookResponse struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	URL      string           `json:"url"`
	Meta4URL string           `json:"meta4_url,omitempty"`
	FileSize int64            `json:"file_size"`
	Size     string           `json:"size"`
	State    domain.BookState `json:"state"`
	Task     *taskResponse    `json:"task,omitempty"`
}

type bookRequest struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Meta4URL string `json:"meta4_url"`
	FileSize int64  `json:"file_size"`
}

type actionResponse struct {
	BookID string `json:"book_id"`
	Action string `json:"action"`
}

func newBookResponse(book *domain.Book, task *domain.DownloadTask) bookResponse {
	resp := bookResponse{
		ID:       book.ID,
		Title:    book.DisplayTitle(),
		URL:      book.URL,
		Meta4URL: book.Meta4URL,
		FileSize: book.FileSize,
		Size:     book.SizeDescription(),
		State:    book.State,
	}
	if task != nil {
		resp.Task = &taskResponse{
			State:             task.State,
			TotalBytesWritten: task.TotalBytesWritten,
			Progress:          task.Progress(book.FileSize),
		}
	}
	return resp
}

// HandleList lists every book with its task, if any
func (h *BookHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	books, err := h.store.ListBooks()
	if err != nil {
		h.logger.Error("failed to list books", zap.Error(err))
		http.Error(w, "Failed to list books", http.StatusInternalServerError)
		return
	}

	tasks, err := h.store.ListTasks()
	if err != nil {
		h.logger.Error("failed to list download tasks", zap.Error(err))
		http.Error(w, "Failed to list download tasks", http.StatusInternalServerError)
		return
	}
	byBook := make(map[string]*domain.DownloadTask, len(tasks))
	for _, task := range tasks {
		byBook[task.BookID] = task
	}

	resp := make([]bookResponse, 0, len(books))
	for _, book := range books {
		resp = append(resp, newBookResponse(book, byBook[book.ID]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGet returns one book
func (h *BookHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	book, ok := h.lookup(w, r)
	if !ok {
		return
	}

	task, err := h.store.GetTask(book.ID)
	if err != nil {
		h.logger.Error("failed to get download task", zap.String("book_id", book.ID), zap.Error(err))
		http.Error(w, "Failed to get download task", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newBookResponse(book, task))
}

// HandlePut creates a book or refreshes its metadata
func (h *BookHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.FileSize < 0 {
		http.Error(w, "file_size must not be negative", http.StatusBadRequest)
		return
	}

	book := &domain.Book{
		ID:       id,
		Title:    req.Title,
		URL:      req.URL,
		Meta4URL: req.Meta4URL,
		FileSize: req.FileSize,
	}
	if err := h.store.UpsertBook(book); err != nil {
		h.writeError(w, id, err)
		return
	}

	stored, err := h.store.GetBook(id)
	if err != nil || stored == nil {
		h.logger.Error("failed to read back book", zap.String("book_id", id), zap.Error(err))
		http.Error(w, "Failed to get book", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newBookResponse(stored, nil))
}

// HandleStart starts a download; ?allow_unrestricted overrides the size policy
func (h *BookHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var allowUnrestricted *bool
	if raw := r.URL.Query().Get("allow_unrestricted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "allow_unrestricted must be true or false", http.StatusBadRequest)
			return
		}
		allowUnrestricted = &v
	}

	if err := h.controller.Start(r.Context(), id, allowUnrestricted); err != nil {
		h.writeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, actionResponse{BookID: id, Action: "start"})
}

// HandlePause pauses a download, keeping a resume token
func (h *BookHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause", h.controller.Pause)
}

// HandleResume resumes a paused download
func (h *BookHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "resume", h.controller.Resume)
}

// HandleCancel cancels a download and discards its progress
func (h *BookHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "cancel", h.controller.Cancel)
}

func (h *BookHandler) control(w http.ResponseWriter, r *http.Request, action string, fn func(ctx context.Context, bookID string) error) {
	book, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), book.ID); err != nil {
		h.writeError(w, book.ID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, actionResponse{BookID: book.ID, Action: action})
}

// lookup loads the book named in the path, writing 404 if it is missing
func (h *BookHandler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Book, bool) {
	id := chi.URLParam(r, "id")

	book, err := h.store.GetBook(id)
	if err != nil {
		h.logger.Error("failed to get book", zap.String("book_id", id), zap.Error(err))
		http.Error(w, "Failed to get book", http.StatusInternalServerError)
		return nil, false
	}
	if book == nil {
		http.Error(w, domain.ErrBookNotFound.Error(), http.StatusNotFound)
		return nil, false
	}
	return book, true
}

func (h *BookHandler) writeError(w http.ResponseWriter, bookID string, err error) {
	switch {
	case errors.Is(err, domain.ErrBookNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNoSourceURL):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrManagerStopped):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("request failed", zap.String("book_id", bookID), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
