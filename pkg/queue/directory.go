package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/framingd/internal/logger"
)

const (
	// MessageFileSuffix marks a complete message in a spool directory.
	// Producers write under another name and rename into place.
	MessageFileSuffix = ".msg"

	claimedFileSuffix = ".claimed"
)

// DirectorySourceConfig configures a DirectorySource.
type DirectorySourceConfig struct {
	// Dir is the spool directory. It is created if missing.
	Dir string

	// PollInterval bounds how long a new file may go unnoticed when file
	// system notifications are unavailable. Default: 1s.
	PollInterval time.Duration

	// SegmentSize splits each message into segments of at most this many
	// bytes. Default: 4096.
	SegmentSize int
}

// DirectorySource is a MessageSource reading one message per file from a
// spool directory, oldest name first. A file is claimed by renaming it
// before it is read, so several sources may share a directory. Claimed
// files are removed once read; a file that cannot be read is unclaimed and
// retried. Files left claimed by a crashed run are restored when a source
// starts, so a source should not start while another one is mid-read.
type DirectorySource struct {
	config  DirectorySourceConfig
	watcher *fsnotify.Watcher
	wake    chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewDirectorySource prepares the spool directory and starts watching it.
func NewDirectorySource(config DirectorySourceConfig) (*DirectorySource, error) {
	if config.Dir == "" {
		return nil, errors.New("queue: spool directory is required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.SegmentSize <= 0 {
		config.SegmentSize = 4096
	}
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: create spool directory: %w", err)
	}

	if err := restoreClaimed(config.Dir); err != nil {
		return nil, err
	}

	s := &DirectorySource{
		config: config,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = watcher.Add(config.Dir)
		if err != nil {
			_ = watcher.Close()
		}
	}
	if err != nil {
		logger.Warn("Spool directory %s: notifications unavailable, polling every %v: %v",
			config.Dir, config.PollInterval, err)
	} else {
		s.watcher = watcher
		go s.watch()
	}
	return s, nil
}

func (s *DirectorySource) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				s.notify()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logger.Debug("Spool directory %s: watch error: %v", s.config.Dir, err)
			s.notify()
		}
	}
}

func (s *DirectorySource) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Receive implements MessageSource. It returns io.EOF after Close.
func (s *DirectorySource) Receive(ctx context.Context) (*RawMessage, error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return nil, io.EOF
		default:
		}

		msg, err := s.next()
		if msg != nil || err != nil {
			return msg, err
		}

		select {
		case <-s.wake:
		case <-ticker.C:
		case <-s.closed:
			return nil, io.EOF
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// next claims and reads the oldest message file, or returns nil when the
// directory holds none.
func (s *DirectorySource) next() (*RawMessage, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("queue: read spool directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, MessageFileSuffix) {
			continue
		}

		path := filepath.Join(s.config.Dir, name)
		claimed := path + claimedFileSuffix
		if err := os.Rename(path, claimed); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("queue: claim %s: %w", name, err)
		}

		data, err := os.ReadFile(claimed)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			// Unclaim so the message is retried on a later pass.
			if rerr := os.Rename(claimed, path); rerr != nil {
				return nil, fmt.Errorf("queue: read %s: %w (unclaim failed: %v)", name, err, rerr)
			}
			logger.Warn("Spool directory %s: skipping %s: %v", s.config.Dir, name, err)
			continue
		}
		if err := os.Remove(claimed); err != nil {
			logger.Debug("Spool directory %s: remove %s: %v", s.config.Dir, claimed, err)
		}

		info, _ := entry.Info()
		enqueued := time.Now()
		if info != nil {
			enqueued = info.ModTime()
		}
		return &RawMessage{
			LookupID:   strings.TrimSuffix(name, MessageFileSuffix),
			Segments:   split(data, s.config.SegmentSize),
			EnqueuedAt: enqueued,
		}, nil
	}
	return nil, nil
}

// restoreClaimed returns files claimed by an earlier run that never
// finished reading them.
func restoreClaimed(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("queue: read spool directory: %w", err)
	}

	suffix := MessageFileSuffix + claimedFileSuffix
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		claimed := filepath.Join(dir, name)
		original := strings.TrimSuffix(claimed, claimedFileSuffix)
		if err := os.Rename(claimed, original); err != nil {
			return fmt.Errorf("queue: restore %s: %w", name, err)
		}
		logger.Info("Spool directory %s: restored unfinished message %s", dir, filepath.Base(original))
	}
	return nil
}

func split(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	segments := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		segments = append(segments, data[:size:size])
		data = data[size:]
	}
	return append(segments, data)
}

// Close stops the watcher and wakes blocked Receive calls. Files still in
// the directory are left for the next run.
func (s *DirectorySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

// WriteMessageFile atomically places payload in dir as <id>.msg.
func WriteMessageFile(dir, id string, payload []byte) (string, error) {
	tmp, err := os.CreateTemp(dir, "."+id+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("queue: create spool file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("queue: write spool file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("queue: write spool file: %w", err)
	}

	path := filepath.Join(dir, id+MessageFileSuffix)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("queue: publish spool file: %w", err)
	}
	return path, nil
}
