package core

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a config file whenever it changes on disk and publishes the reparsed
// value on Changes. Files that fail to parse are logged and skipped.
type ConfigWatcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	changes  chan *Config
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mutex    sync.Mutex
}

func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create config watcher")
	}
	// Watch the directory: editors often replace the file instead of writing to it.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", filepath.Dir(abs))
	}

	cw := &ConfigWatcher{
		path:     abs,
		fsnotify: fsWatch,
		changes:  make(chan *Config, 1),
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

// Changes delivers reloaded configs. Only the newest pending config is kept.
func (cw *ConfigWatcher) Changes() <-chan *Config {
	return cw.changes
}

func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	if cw.closed {
		cw.mutex.Unlock()
		return nil
	}
	cw.closed = true
	cw.mutex.Unlock()

	close(cw.done)
	cw.wg.Wait()
	return nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := LoadConfig(cw.path)
			if err != nil {
				LogWarn("ignoring config change: %s", err)
				continue
			}
			LogInfo("config %s reloaded", cw.path)
			cw.publish(cfg)

		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			LogError(err.Error())

		case <-cw.done:
			cw.fsnotify.Close()
			close(cw.changes)
			return
		}
	}
}

func (cw *ConfigWatcher) publish(cfg *Config) {
	// Drop a stale pending value so the consumer always sees the latest file contents.
	select {
	case <-cw.changes:
	default:
	}
	cw.changes <- cfg
}
