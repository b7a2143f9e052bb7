package feature

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/scanlab/bulkscan/internal/position"
)

// FileRecorder appends findings to one text file per feature name under a
// directory. Each line is "pos0 <tab> feature <tab> context" with
// non-printable bytes hex-escaped. Files are created lazily on the first
// record for their name.
type FileRecorder struct {
	counters
	dir string

	mu    sync.Mutex
	files map[string]*featureFile
}

type featureFile struct {
	mu sync.Mutex // serializes writes per feature file
	f  *os.File
	w  *bufio.Writer
}

// NewFileRecorder creates the output directory if needed.
func NewFileRecorder(dir string) (*FileRecorder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create feature directory: %w", err)
	}
	return &FileRecorder{dir: dir, files: make(map[string]*featureFile)}, nil
}

func (r *FileRecorder) Record(name string, pos position.Position, feature, context []byte) error {
	ff, err := r.file(name)
	if err != nil {
		return err
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if _, err := fmt.Fprintf(ff.w, "%s\t%s\t%s\n", pos, quote(feature), quote(context)); err != nil {
		return fmt.Errorf("failed to append to %s feature file: %w", name, err)
	}
	r.bump(name)
	return nil
}

func (r *FileRecorder) file(name string) (*featureFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ff, ok := r.files[name]; ok {
		return ff, nil
	}
	path := filepath.Join(r.dir, name+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open feature file %s: %w", path, err)
	}
	ff := &featureFile{f: f, w: bufio.NewWriter(f)}
	r.files[name] = ff
	return ff, nil
}

// Close flushes and closes every open feature file. The first error wins
// but all files are still closed.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, ff := range r.files {
		ff.mu.Lock()
		if err := ff.w.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to flush %s feature file: %w", name, err)
		}
		if err := ff.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s feature file: %w", name, err)
		}
		ff.mu.Unlock()
	}
	r.files = make(map[string]*featureFile)
	return firstErr
}
