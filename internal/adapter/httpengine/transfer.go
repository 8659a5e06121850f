package httpengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"github.com/vertextoedge/book-downloader/internal/util/ratelimiter"
	"go.uber.org/zap"
)

type transfer struct {
	engine  *Engine
	session *session
	tag     string
	url     string
	resume  *resumeToken
	path    string
	limiter *ratelimiter.Limiter
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	stopped      bool
	produceToken bool

	// Owned by the run goroutine
	written      int64
	etag         string
	lastModified string
	filename     string
}

func newTransfer(s *session, tag, rawURL string, rt *resumeToken) *transfer {
	ctx, cancel := context.WithCancel(s.engine.ctx)

	return &transfer{
		engine:  s.engine,
		session: s,
		tag:     tag,
		url:     rawURL,
		resume:  rt,
		path:    s.engine.tempPath(tag),
		limiter: ratelimiter.New(s.engine.config.ProgressInterval),
		logger:  s.logger.With(zap.String("tag", tag)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (t *transfer) Tag() string {
	return t.tag
}

// Cancel stops the transfer; only the first call counts
func (t *transfer) Cancel(produceResumeToken bool) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.produceToken = produceResumeToken
	t.mu.Unlock()

	t.cancel()
}

func (t *transfer) cancelRequested() (stopped, produceToken bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped, t.produceToken
}

func (t *transfer) run() {
	defer t.engine.wg.Done()
	defer t.session.done(t)
	defer t.cancel()

	err := t.download()

	stopped, produceToken := t.cancelRequested()
	if !stopped && t.engine.ctx.Err() != nil {
		// Engine shutdown keeps partial data resumable
		stopped, produceToken = true, true
	}

	sessionID := t.session.Identifier()

	switch {
	case stopped:
		ev := port.CompletedEvent{Tag: t.tag, Session: sessionID, Err: port.ErrCancelled}
		if produceToken {
			ev.ResumeToken = t.resumeToken()
		} else {
			t.removeTempFile()
		}
		t.logger.Debug("transfer cancelled",
			zap.Int64("bytes_written", t.written),
			zap.Bool("resume_token", ev.ResumeToken != nil))
		t.engine.emit(ev)

	case err == nil:
		t.logger.Info("transfer finished", zap.Int64("bytes_written", t.written))
		t.engine.emit(port.FinishedEvent{
			Tag:               t.tag,
			Session:           sessionID,
			Location:          t.path,
			SuggestedFilename: t.filename,
			RequestURL:        t.url,
		})
		t.engine.emit(port.CompletedEvent{Tag: t.tag, Session: sessionID})

	default:
		ev := port.CompletedEvent{Tag: t.tag, Session: sessionID, Err: err}
		if t.written > 0 && domain.IsRetryable(err) {
			ev.ResumeToken = t.resumeToken()
		} else {
			t.removeTempFile()
		}
		t.logger.Warn("transfer failed",
			zap.Int64("bytes_written", t.written),
			zap.Bool("resumable", ev.ResumeToken != nil),
			zap.Error(err))
		t.engine.emit(ev)
	}
}

func (t *transfer) download() error {
	fs := t.engine.fs

	var offset int64
	if t.resume != nil {
		if info, err := fs.Stat(t.path); err == nil {
			offset = min(info.Size(), t.resume.Bytes)
		}
		t.etag = t.resume.ETag
		t.lastModified = t.resume.LastModified
		t.filename = t.resume.Filename
	}

	f, err := fs.OpenFile(t.path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer f.Close()

	resp, err := t.request(offset)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		t.logger.Info("resuming transfer", zap.Int64("from_byte", offset))

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The temp file already holds the whole payload
		total := contentRangeTotal(resp.Header.Get("Content-Range"))
		if total != offset {
			return fmt.Errorf("range not satisfiable at byte %d", offset)
		}
		t.written = offset
		t.emitProgress(total)
		return nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if offset > 0 {
			t.logger.Info("server ignored range, starting fresh", zap.Int64("discarded_bytes", offset))
			offset = 0
		}

	default:
		return statusError(resp)
	}

	if err := f.Truncate(offset); err != nil {
		return fmt.Errorf("failed to truncate temp file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek temp file: %w", err)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		t.etag = etag
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		t.lastModified = lm
	}
	if name := suggestedFilename(resp.Header); name != "" {
		t.filename = name
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	t.written = offset
	reader := &progressReader{reader: resp.Body, transfer: t, total: total}
	buf := make([]byte, t.engine.config.BufferSizeKB*1024)

	if _, err := io.CopyBuffer(f, reader, buf); err != nil {
		if t.ctx.Err() != nil {
			return t.ctx.Err()
		}
		if reader.readErr != nil {
			return domain.NewRetryableError(
				fmt.Errorf("transfer interrupted at byte %d: %w", t.written, reader.readErr), 0)
		}
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Always report the final count
	t.emitProgress(total)
	t.limiter.Mark()

	if total >= 0 && t.written != total {
		return domain.NewRetryableError(
			fmt.Errorf("short transfer: got %d of %d bytes", t.written, total), 0)
	}

	return f.Sync()
}

func (t *transfer) request(offset int64) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(t.ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if t.etag != "" {
			req.Header.Set("If-Range", t.etag)
		} else if t.lastModified != "" {
			req.Header.Set("If-Range", t.lastModified)
		}
	}

	resp, err := t.engine.client.Do(req)
	if err != nil {
		if resp != nil && t.ctx.Err() == nil {
			// Retries exhausted on a status code
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		if t.ctx.Err() != nil {
			return nil, t.ctx.Err()
		}
		return nil, domain.NewRetryableError(fmt.Errorf("request failed: %w", err), 0)
	}
	return resp, nil
}

func (t *transfer) emitProgress(total int64) {
	t.engine.emit(port.ProgressEvent{
		Tag:           t.tag,
		Session:       t.session.Identifier(),
		BytesWritten:  t.written,
		TotalExpected: total,
	})
}

func (t *transfer) resumeToken() []byte {
	token, err := encodeResumeToken(&resumeToken{
		URL:          t.url,
		Bytes:        t.written,
		ETag:         t.etag,
		LastModified: t.lastModified,
		Filename:     t.filename,
	})
	if err != nil {
		t.logger.Error("failed to encode resume token", zap.Error(err))
		return nil
	}
	return token
}

func (t *transfer) removeTempFile() {
	if err := t.engine.fs.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn("failed to remove temp file", zap.String("path", t.path), zap.Error(err))
	}
}

// progressReader counts bytes and reports throttled progress
type progressReader struct {
	reader   io.Reader
	transfer *transfer
	total    int64
	readErr  error
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	if n > 0 {
		r.transfer.written += int64(n)
		if allowed, _ := r.transfer.limiter.Allow(); allowed {
			r.transfer.emitProgress(r.total)
		}
	}
	if err != nil && err != io.EOF {
		r.readErr = err
	}
	return n, err
}

func statusError(resp *http.Response) error {
	err := fmt.Errorf("unexpected status: %s", resp.Status)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.NewRetryableError(err, retryAfter(resp.Header))
	}
	return err
}

// retryAfter reads a Retry-After header in either seconds or HTTP-date form
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// contentRangeTotal parses the complete length from "bytes */1234"; -1 if unknown
func contentRangeTotal(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return -1
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[idx+1:]), 10, 64)
	if err != nil {
		return -1
	}
	return total
}

// suggestedFilename returns the Content-Disposition filename, if usable
func suggestedFilename(h http.Header) string {
	cd := h.Get("Content-Disposition")
	if cd == "" {
		return ""
	}

	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}

	name := filepath.Base(params["filename"])
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}
