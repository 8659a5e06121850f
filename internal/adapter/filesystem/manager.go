package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/vertextoedge/book-downloader/internal/port"
)

// Manager handles placement of downloaded books on the local filesystem
type Manager struct {
	fs           afero.Fs
	documentsDir string
	tempDir      string
	bufferSize   int
}

// Ensure Manager implements port.FileSystem
var _ port.FileSystem = (*Manager)(nil)

// NewManager creates a new filesystem manager rooted on fs
func NewManager(fs afero.Fs, documentsDir, tempDir string) (*Manager, error) {
	return NewManagerWithBufferSize(fs, documentsDir, tempDir, 1024*1024)
}

// NewManagerWithBufferSize creates a new filesystem manager with a custom copy buffer
func NewManagerWithBufferSize(fs afero.Fs, documentsDir, tempDir string, bufferSize int) (*Manager, error) {
	if documentsDir == "" {
		return nil, fmt.Errorf("documents dir is required")
	}
	if tempDir == "" {
		tempDir = filepath.Join(documentsDir, ".downloads")
	}

	for _, dir := range []string{documentsDir, tempDir} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}

	if bufferSize <= 0 {
		bufferSize = 1024 * 1024
	}

	return &Manager{
		fs:           fs,
		documentsDir: documentsDir,
		tempDir:      tempDir,
		bufferSize:   bufferSize,
	}, nil
}

// Fs returns the underlying filesystem
func (m *Manager) Fs() afero.Fs {
	return m.fs
}

// DocumentsDir returns the directory completed books are moved into
func (m *Manager) DocumentsDir() string {
	return m.documentsDir
}

// TempDir returns the directory transfers write into
func (m *Manager) TempDir() string {
	return m.tempDir
}

// MoveToDocuments moves a downloaded file into the documents directory
func (m *Manager) MoveToDocuments(from, name string) (string, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "", fmt.Errorf("invalid destination name %q", name)
	}
	dest := filepath.Join(m.documentsDir, name)

	if _, err := m.fs.Stat(from); err != nil {
		return "", fmt.Errorf("source file: %w", err)
	}

	// A re-download replaces the previous copy
	if err := m.fs.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to replace %s: %w", dest, err)
	}

	if err := m.fs.Rename(from, dest); err == nil {
		return dest, nil
	}

	// Rename fails across devices; fall back to copy and remove
	if err := m.copyFile(from, dest); err != nil {
		m.fs.Remove(dest)
		return "", fmt.Errorf("failed to move file: %w", err)
	}
	if err := m.fs.Remove(from); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove source after copy: %w", err)
	}
	return dest, nil
}

func (m *Manager) copyFile(from, to string) error {
	src, err := m.fs.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := m.fs.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	buf := make([]byte, m.bufferSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// GetFileSize returns the size of a file
func (m *Manager) GetFileSize(path string) (int64, error) {
	info, err := m.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DeleteFile removes a file
func (m *Manager) DeleteFile(path string) error {
	if err := m.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CleanOldTempFiles removes temp files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := afero.Walk(m.fs, m.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != port.TempFileExt {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if removeErr := m.fs.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}
