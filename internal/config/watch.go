package config

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Watcher reloads a configuration file whenever it changes on disk.
type Watcher struct {
	path   string
	w      *fsnotify.Watcher
	logger log.Logger
}

// NewWatcher starts watching path. The containing directory is watched so
// that editors replacing the file are noticed too.
func NewWatcher(path string, logger log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve config path")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, errors.Wrapf(err, "watch %s", filepath.Dir(abs))
	}
	return &Watcher{path: abs, w: w, logger: log.With(logger, "component", "config", "file", abs)}, nil
}

// Run calls fn with every valid version of the file until ctx is done,
// then closes the watcher. Versions that fail to load or validate are
// logged and skipped; fn keeps the last good one.
func (cw *Watcher) Run(ctx context.Context, fn func(*Config)) error {
	defer cw.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-cw.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			c, err := cw.reload()
			if err != nil {
				level.Warn(cw.logger).Log("msg", "ignoring config change", "err", err)
				continue
			}
			if c == nil {
				continue
			}
			level.Info(cw.logger).Log("msg", "config reloaded", "op", ev.Op.String())
			fn(c)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return nil
			}
			level.Warn(cw.logger).Log("msg", "file watcher error", "err", err)
		}
	}
}

// reload returns nil, nil when the file is missing or still empty, as it is
// between the truncate and the write of an update.
func (cw *Watcher) reload() (*Config, error) {
	data, err := os.ReadFile(cw.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	if len(data) == 0 {
		return nil, nil
	}
	c := Default()
	if err := c.decode(data); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Watch is NewWatcher followed by Run.
func Watch(ctx context.Context, path string, logger log.Logger, fn func(*Config)) error {
	cw, err := NewWatcher(path, logger)
	if err != nil {
		return err
	}
	return cw.Run(ctx, fn)
}
