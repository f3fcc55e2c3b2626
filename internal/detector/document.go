package detector

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	logx "otpbot/pkg/logx"
)

// Document is a source of rendered text that can report its own mutations.
type Document interface {
	URL() string
	Text(ctx context.Context) (string, error)
	// Observe registers onChange for structural or text mutations. The returned
	// func detaches it.
	Observe(onChange func()) (disconnect func(), err error)
}

// MemoryDocument is a mutable in-memory document.
type MemoryDocument struct {
	url string

	mu        sync.Mutex
	text      string
	seq       int
	observers map[int]func()
}

func NewMemoryDocument(url, text string) *MemoryDocument {
	return &MemoryDocument{url: url, text: text, observers: map[int]func(){}}
}

func (d *MemoryDocument) URL() string { return d.url }

func (d *MemoryDocument) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text, nil
}

func (d *MemoryDocument) SetText(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
	d.notify()
}

func (d *MemoryDocument) Append(text string) {
	d.mu.Lock()
	d.text += text
	d.mu.Unlock()
	d.notify()
}

func (d *MemoryDocument) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (d *MemoryDocument) Observe(onChange func()) (func(), error) {
	if onChange == nil {
		return func() {}, nil
	}
	d.mu.Lock()
	d.seq++
	id := d.seq
	d.observers[id] = onChange
	d.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}, nil
}

// FileDocument is a file on disk. Writes, creates and renames of the file are
// mutations; .html and .htm files are reduced to their rendered text.
type FileDocument struct {
	path string
	url  string
	log  logx.Logger
}

// NewFileDocument uses a file:// URL when url is empty.
func NewFileDocument(path, url string, log logx.Logger) *FileDocument {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(url) == "" {
		if abs, err := filepath.Abs(path); err == nil {
			url = "file://" + filepath.ToSlash(abs)
		} else {
			url = "file://" + filepath.ToSlash(path)
		}
	}
	return &FileDocument{path: path, url: url, log: log}
}

func (d *FileDocument) URL() string  { return d.url }
func (d *FileDocument) Path() string { return d.path }

func (d *FileDocument) IsHTML() bool {
	switch strings.ToLower(filepath.Ext(d.path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

func (d *FileDocument) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b, err := os.ReadFile(d.path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", d.path, err)
	}
	if d.IsHTML() {
		return ExtractText(bytes.NewReader(b))
	}
	return string(b), nil
}

// Observe watches the parent directory so editors that replace the file by
// rename are still seen.
func (d *FileDocument) Observe(onChange func()) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", d.path, err)
	}
	dir := filepath.Dir(d.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(d.path)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 && onChange != nil {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.log.Warn("document watch error", logx.String("path", d.path), logx.Err(err))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = w.Close()
			<-done
		})
	}, nil
}
