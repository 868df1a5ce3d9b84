package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ubuntu/ais-insights/internal/ingest/validator"
	"github.com/ubuntu/ais-insights/internal/models"
	"github.com/ubuntu/decorate"
)

// Manager loads the snapshot file and keeps it up to date when watched.
type Manager struct {
	path string

	lock    sync.RWMutex
	reports []models.Report
	loadErr error
	loaded  bool

	validator validator.Validator
	log       *slog.Logger
}

type options struct {
	Logger *slog.Logger
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// WithLogger sets the logger used by the Manager.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.Logger = l
	}
}

// NewManager creates a snapshot manager for the file at path.
func NewManager(path string, args ...Options) *Manager {
	opts := options{
		Logger: slog.Default(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	return &Manager{
		path:      filepath.Clean(path),
		validator: validator.New(),
		log:       opts.Logger,
	}
}

// Load reads the snapshot file and replaces the cached snapshot.
//
// A missing file is an empty snapshot. On failure, the error is kept and returned by Snapshot until the next successful load.
// Entries which are not valid reports are dropped with a warning.
func (m *Manager) Load() (err error) {
	reports, err := m.read()

	m.lock.Lock()
	defer m.lock.Unlock()
	m.loaded = true
	m.loadErr = err
	if err != nil {
		m.reports = nil
		return err
	}
	m.reports = reports

	m.log.Debug("Snapshot loaded", "path", m.path, "reports", len(reports))
	return nil
}

func (m *Manager) read() (reports []models.Report, err error) {
	defer decorate.OnError(&err, "could not load snapshot %s", m.path)

	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		m.log.Debug("No snapshot file yet", "path", m.path)
		return []models.Report{}, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("snapshot is not a JSON array: %v", err)
	}

	reports = make([]models.Report, 0, len(entries))
	for i, raw := range entries {
		r, err := m.validator.Validate(raw)
		if err != nil {
			m.log.Warn("Skipping invalid snapshot entry", "index", i, "err", err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Snapshot returns a copy of the reports of the last load, loading the file first if it was never loaded.
func (m *Manager) Snapshot() ([]models.Report, error) {
	m.lock.RLock()
	loaded := m.loaded
	m.lock.RUnlock()

	if !loaded {
		if err := m.Load(); err != nil {
			return nil, err
		}
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return slices.Clone(m.reports), nil
}

// Watch starts watching the snapshot file for changes.
//
// It returns two channels: one signaled after each reload of the file, successful or not, and another for unrecoverable watcher errors.
// The parent directory is watched so that atomic replacements of the file are seen.
func (m *Manager) Watch(ctx context.Context) (changes <-chan struct{}, errors <-chan error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %v", err)
	}

	dir := filepath.Dir(m.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, nil, fmt.Errorf("failed to add directory %s to watcher: %v", dir, err)
	}

	m.log.Info("Watching snapshot directory", "dir", dir)
	changesCh := make(chan struct{}, 1)
	errorsCh := make(chan error, 1)

	if err := m.Load(); err != nil {
		m.log.Warn("Error loading initial snapshot", "err", err)
	}

	go func() {
		defer close(changesCh)
		defer close(errorsCh)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				m.log.Info("Snapshot watcher stopped")
				return
			case event, ok := <-watcher.Events:
				if !ok {
					errorsCh <- fmt.Errorf("watcher events channel closed unexpectedly")
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != m.path {
					continue
				}

				m.log.Debug("Snapshot file changed. Reloading...", "op", event.Op.String())
				if err := m.Load(); err != nil {
					m.log.Warn("Error reloading snapshot", "err", err)
				}

				select {
				case changesCh <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					errorsCh <- fmt.Errorf("watcher errors channel closed unexpectedly")
					return
				}
				m.log.Warn("Watcher error", "err", err)
			}
		}
	}()

	return changesCh, errorsCh, nil
}

// Path returns the watched snapshot file path.
func (m *Manager) Path() string {
	return m.path
}
