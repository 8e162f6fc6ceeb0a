package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix for overrides, e.g.
// TURNKIT_REMOTE_API_KEY.
const EnvPrefix = "TURNKIT"

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		if len(submatch) >= 3 {
			return submatch[2]
		}
		return ""
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from TURNKIT_<SECTION>_<FIELD> variables. Unset
// variables leave the current value untouched.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		name string
		dest any
	}{
		{"REMOTE", &cfg.Remote},
		{"TURN", &cfg.Turn},
		{"COMPAT", &cfg.Compat},
		{"EVIDENCE", &cfg.Evidence},
		{"CONTEXT", &cfg.Context},
		{"STORAGE", &cfg.Storage},
		{"SERVER", &cfg.Server},
		{"LOG", &cfg.Log},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.dest); err != nil {
			return fmt.Errorf("env overrides for %s: %w", s.name, err)
		}
	}
	return nil
}

// Load builds a config from defaults, an optional YAML file and the environment.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			slog.Debug("config.file_missing", "path", path)
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Loader holds the current configuration and reloads it when the file changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	cfg      *Config
	watchers []func(old, cur *Config)
	logger   *slog.Logger
}

func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// Load reads the configuration and stores it as current.
func (l *Loader) Load() error {
	cfg, err := Load(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// OnReload registers a callback that fires after config is reloaded with the
// previous and the new configuration.
func (l *Loader) OnReload(fn func(old, cur *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watchers = append(l.watchers, fn)
}

// Reload loads the file again and notifies the reload callbacks.
func (l *Loader) Reload() error {
	l.mu.RLock()
	old := l.cfg
	l.mu.RUnlock()

	if err := l.Load(); err != nil {
		return err
	}

	l.mu.RLock()
	cur := l.cfg
	hooks := append([]func(old, cur *Config){}, l.watchers...)
	l.mu.RUnlock()

	for _, fn := range hooks {
		fn(old, cur)
	}
	return nil
}

// Watch starts watching the config file's directory and reloads on
// modification. The returned function stops the watcher.
func (l *Loader) Watch() (func(), error) {
	if l.path == "" {
		return func() {}, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config dir %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config.reload", "file", event.Name)
					if err := l.Reload(); err != nil {
						l.logger.Error("config.reload_failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("config.watch_error", "error", err)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
