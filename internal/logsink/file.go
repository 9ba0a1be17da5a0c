package logsink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/dunamismax/pixelgate/internal/domain"
)

// File appends entries as JSON lines. The parent directory is created on
// first write.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Append(_ context.Context, entry domain.LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return wrap("marshal log entry", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return wrap("create log dir", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return wrap("open log file", err)
	}
	if _, err := file.Write(line); err != nil {
		_ = file.Close()
		return wrap("append log entry", err)
	}
	return wrap("close log file", file.Close())
}
