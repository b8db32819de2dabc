package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	RendezvousMemory = "memory"
	RendezvousSocket = "socket"

	DirectoryMemory = "memory"
	DirectoryFile   = "file"

	DefaultChildCapacity     = 63
	DefaultZombieCapacity    = 256
	DefaultCompletionTimeout = 60 * time.Second
	DefaultReaperPoll        = time.Second
	DefaultScanLimit         = 100
	DefaultOpenAttempts      = 10
	DefaultOpenDelay         = time.Millisecond
	DefaultStopTimeout       = 2 * time.Second
	DefaultAPIAddr           = "127.0.0.1:7663"
)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Config mirrors the runtime configuration document.
type Config struct {
	Version    string         `yaml:"version"`
	Runtime    RuntimeSpec    `yaml:"runtime"`
	Rendezvous RendezvousSpec `yaml:"rendezvous"`
	Directory  DirectorySpec  `yaml:"directory"`
	Logging    LoggingSpec    `yaml:"logging"`
	API        APISpec        `yaml:"api"`
}

// RuntimeSpec tunes signal delivery and child bookkeeping.
type RuntimeSpec struct {
	ChildCapacity     int      `yaml:"childCapacity"`
	ZombieCapacity    int      `yaml:"zombieCapacity"`
	CompletionTimeout Duration `yaml:"completionTimeout"`
	ReaperPoll        Duration `yaml:"reaperPoll"`
	ScanLimit         int      `yaml:"scanLimit"`
	OpenAttempts      int      `yaml:"openAttempts"`
	OpenDelay         Duration `yaml:"openDelay"`
	StopTimeout       Duration `yaml:"stopTimeout"`
}

// RendezvousSpec selects how processes find each other's notifiers.
type RendezvousSpec struct {
	Kind string `yaml:"kind"`
	Dir  string `yaml:"dir"`
}

// DirectorySpec selects where process descriptors are published.
type DirectorySpec struct {
	Kind string `yaml:"kind"`
	Dir  string `yaml:"dir"`
}

type LoggingSpec struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type APISpec struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	r := &c.Runtime
	if r.ChildCapacity == 0 {
		r.ChildCapacity = DefaultChildCapacity
	}
	if r.ZombieCapacity == 0 {
		r.ZombieCapacity = DefaultZombieCapacity
	}
	if !r.CompletionTimeout.IsSet() {
		r.CompletionTimeout.Duration = DefaultCompletionTimeout
	}
	if !r.ReaperPoll.IsSet() {
		r.ReaperPoll.Duration = DefaultReaperPoll
	}
	if r.ScanLimit == 0 {
		r.ScanLimit = DefaultScanLimit
	}
	if r.OpenAttempts == 0 {
		r.OpenAttempts = DefaultOpenAttempts
	}
	if !r.OpenDelay.IsSet() {
		r.OpenDelay.Duration = DefaultOpenDelay
	}
	if !r.StopTimeout.IsSet() {
		r.StopTimeout.Duration = DefaultStopTimeout
	}

	runDir := DefaultRuntimeDir()
	if c.Rendezvous.Kind == "" {
		c.Rendezvous.Kind = RendezvousSocket
	}
	if c.Rendezvous.Dir == "" {
		c.Rendezvous.Dir = filepath.Join(runDir, "sock")
	}
	if c.Directory.Kind == "" {
		c.Directory.Kind = DirectoryFile
	}
	if c.Directory.Dir == "" {
		c.Directory.Dir = filepath.Join(runDir, "proc")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.API.Addr == "" {
		c.API.Addr = DefaultAPIAddr
	}
}

// DefaultRuntimeDir is the per-user directory holding sockets and
// descriptors.
func DefaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sigrt")
	}
	return filepath.Join(os.TempDir(), "sigrt-"+strconv.Itoa(os.Getuid()))
}
