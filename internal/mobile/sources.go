package mobile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileCamera feeds pre-taken JPEG files as shutter presses. It stands in for
// the real camera the same way a headless peer stands in for a UI: one file
// per Capture, in order.
type FileCamera struct {
	mu     sync.Mutex
	paths  []string
	next   int
	closed bool
}

var ErrNoMoreCaptures = errors.New("no captures left")

func NewFileCamera(paths ...string) *FileCamera {
	return &FileCamera{paths: paths}
}

func (c *FileCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("camera released")
	}
	if c.next >= len(c.paths) {
		c.mu.Unlock()
		return nil, ErrNoMoreCaptures
	}
	path := c.paths[c.next]
	c.next++
	c.mu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture %s: %w", path, err)
	}
	return raw, nil
}

// Close releases the source; Capture fails afterwards, like a stopped media
// track.
func (c *FileCamera) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FolderSink is the download affordance of the CLI responder: received
// documents land in a folder.
type FolderSink struct {
	Dir string
}

func (s *FolderSink) Share(doc *ReceivedDocument) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	name := filepath.Base(doc.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = DefaultFilename
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return err
	}
	return nil
}
