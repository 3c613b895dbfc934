package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped and variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Parse expands ${VAR} references in data, decodes YAML, applies defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Loader reads a configuration file and optionally watches it for changes.
type Loader struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	current *Config
	mu      sync.RWMutex
	close   chan struct{}
	once    sync.Once
}

// NewLoader creates a Loader for path. An empty path yields defaults.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		path = abs
	}

	return &Loader{
		path:   path,
		logger: logger,
		close:  make(chan struct{}),
	}, nil
}

// SetLogger replaces the logger used for reload reports. Call before Watch.
func (l *Loader) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Path returns the absolute path of the watched file.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file, or returns defaults when no path was given. The
// current configuration only changes when the file parses and validates.
func (l *Loader) Load() (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if l.path == "" {
		cfg = Default()
	} else {
		data, readErr := os.ReadFile(l.path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
		// Truncating writers briefly leave the file empty.
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, fmt.Errorf("config file %s is empty", l.path)
		}
		cfg, err = Parse(data)
		if err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch reloads the file on change and passes each valid configuration to
// onChange. Invalid edits are logged and the previous configuration kept.
func (l *Loader) Watch(onChange func(*Config)) error {
	if l.path == "" {
		return errors.New("config: no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors often replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop(onChange)
	return nil
}

func (l *Loader) watchLoop(onChange func(*Config)) {
	for {
		select {
		case <-l.close:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := l.Load()
			if err != nil {
				l.logger.Error("Config reload failed, keeping previous configuration", "path", l.path, "error", err)
				continue
			}
			l.logger.Info("Config reloaded", "path", l.path)
			if onChange != nil {
				onChange(cfg)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (l *Loader) Close() error {
	var err error
	l.once.Do(func() {
		close(l.close)
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
