package config

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads the config file when it changes on disk and reports
// which sections differ from the running configuration. Sections the service
// cannot apply live (ingest, watch) are still reported so the operator sees
// that a restart is needed.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	onChange chan *Config
	onError  chan error
	logger   logger.ILogger

	mu         sync.Mutex
	lastConfig *Config
}

// NewConfigWatcher creates a watcher for the given config file. The current
// config supplies the debounce window and the baseline for change reporting.
func NewConfigWatcher(path string, current *Config, log logger.ILogger) *ConfigWatcher {
	debounce := current.Pipeline.ReloadDebounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	return &ConfigWatcher{
		path:       path,
		debounce:   debounce,
		onChange:   make(chan *Config, 1),
		onError:    make(chan error, 1),
		lastConfig: current,
		logger:     log.SubLogger("ConfigWatcher"),
	}
}

// Changes returns the channel receiving reloaded configs.
func (w *ConfigWatcher) Changes() <-chan *Config {
	return w.onChange
}

// Errors returns the channel receiving reload errors.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.onError
}

// Start begins watching the config file.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(w.path); err != nil {
		watcher.Close()
		return err
	}

	w.logger.Debugf("watching config file: %s (debounce=%s)", w.path, w.debounce)
	go w.loop(ctx, watcher)
	return nil
}

// loop coalesces write bursts into a single reload. Editors typically emit
// several events per save, the same pattern the drop-folder source handles
// with its settle timer.
func (w *ConfigWatcher) loop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Errorf("fsnotify error: %v", err)
			w.reportError(err)
		}
	}
}

// reload re-reads the file, records what changed, and hands the new config
// to the consumer. A full change channel drops the older update.
func (w *ConfigWatcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Errorf("config reload failed, keeping current config: %v", err)
		w.reportError(err)
		return
	}

	w.mu.Lock()
	prev := w.lastConfig
	w.lastConfig = cfg
	w.mu.Unlock()

	changed := changedSections(prev, cfg)
	if len(changed) == 0 {
		w.logger.Debugf("config file rewritten without changes: %s", w.path)
		return
	}
	w.logger.Infof("config reloaded: path=%s changed=%v", w.path, changed)

	select {
	case w.onChange <- cfg:
	default:
		w.logger.Warning("config change channel full, dropping update")
	}
}

func (w *ConfigWatcher) reportError(err error) {
	select {
	case w.onError <- err:
	default:
	}
}

// LastConfig returns the most recently loaded config.
func (w *ConfigWatcher) LastConfig() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastConfig
}

// changedSections names the top-level config sections that differ.
func changedSections(old, next *Config) []string {
	if old == nil {
		return []string{"loglevel", "ingest", "pipeline", "watch", "sinks"}
	}

	var changed []string
	if old.LogLevel != next.LogLevel {
		changed = append(changed, "loglevel")
	}
	if old.Ingest != next.Ingest {
		changed = append(changed, "ingest")
	}
	if old.Pipeline != next.Pipeline {
		changed = append(changed, "pipeline")
	}
	if !reflect.DeepEqual(old.Watch, next.Watch) {
		changed = append(changed, "watch")
	}
	if !reflect.DeepEqual(old.Sinks, next.Sinks) {
		changed = append(changed, "sinks")
	}
	return changed
}
