package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

var _ SecretSource = (*SecretFile)(nil)

// SecretFile is a SecretSource backed by a file that is re-read whenever it
// changes on disk. The parent directory is watched so that atomic
// replacements (rename over, or the symlink swap used by mounted secrets)
// are observed.
type SecretFile struct {
	path    string
	log     *slog.Logger
	value   atomic.Value
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewSecretFile reads path once and keeps watching it until ctx ends or
// Close is called.
func NewSecretFile(ctx context.Context, path string, log *slog.Logger) (*SecretFile, error) {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("secret file path: %w", err)
	}
	sf := &SecretFile{path: abs, log: log, done: make(chan struct{})}
	if err := sf.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("secret file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	sf.watcher = w
	go sf.run(ctx)
	return sf, nil
}

// Secret returns the most recently loaded value.
func (s *SecretFile) Secret() string {
	v, _ := s.value.Load().(string)
	return v
}

// Close stops watching the file.
func (s *SecretFile) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *SecretFile) reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read secret file: %w", err)
	}
	s.value.Store(strings.TrimSpace(string(b)))
	return nil
}

func (s *SecretFile) run(ctx context.Context) {
	defer func() { _ = s.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) == 0 {
				continue
			}
			// A rename or symlink swap may leave the path briefly absent; the
			// following Create event retries.
			if err := s.reload(); err != nil {
				s.log.DebugContext(ctx, "auth.secret.reload.skip", slog.String("err", err.Error()))
				continue
			}
			s.log.InfoContext(ctx, "auth.secret.reload.ok")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.WarnContext(ctx, "auth.secret.watch.fail", slog.String("err", err.Error()))
		}
	}
}
