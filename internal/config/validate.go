package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Validate checks the semantic constraints a schema cannot express and
// reports every violation.
func (c *Config) Validate() error {
	var errs error
	add := func(field, format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	r := c.Runtime
	if r.ChildCapacity < 1 {
		add("runtime.childCapacity", "must be positive, got %d", r.ChildCapacity)
	}
	if r.ZombieCapacity < 1 {
		add("runtime.zombieCapacity", "must be positive, got %d", r.ZombieCapacity)
	}
	for _, d := range []struct {
		field string
		value Duration
	}{
		{"runtime.completionTimeout", r.CompletionTimeout},
		{"runtime.reaperPoll", r.ReaperPoll},
		{"runtime.openDelay", r.OpenDelay},
		{"runtime.stopTimeout", r.StopTimeout},
	} {
		if d.value.Duration <= 0 {
			add(d.field, "must be positive, got %s", d.value.Duration)
		}
	}
	if r.ScanLimit < 1 {
		add("runtime.scanLimit", "must be positive, got %d", r.ScanLimit)
	}
	if r.OpenAttempts < 1 {
		add("runtime.openAttempts", "must be positive, got %d", r.OpenAttempts)
	}

	switch c.Rendezvous.Kind {
	case RendezvousMemory:
	case RendezvousSocket:
		if strings.TrimSpace(c.Rendezvous.Dir) == "" {
			add("rendezvous.dir", "required for kind %q", RendezvousSocket)
		}
	default:
		add("rendezvous.kind", "unsupported kind %q", c.Rendezvous.Kind)
	}
	switch c.Directory.Kind {
	case DirectoryMemory:
	case DirectoryFile:
		if strings.TrimSpace(c.Directory.Dir) == "" {
			add("directory.dir", "required for kind %q", DirectoryFile)
		}
	default:
		add("directory.kind", "unsupported kind %q", c.Directory.Kind)
	}
	if c.Rendezvous.Kind == RendezvousMemory && c.Directory.Kind == DirectoryFile {
		add("rendezvous.kind", "memory rendezvous cannot serve a shared file directory")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", "%v", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		add("logging.format", "unsupported format %q", c.Logging.Format)
	}
	if c.API.Enabled {
		if _, _, err := net.SplitHostPort(c.API.Addr); err != nil {
			add("api.addr", "%v", err)
		}
	}
	if errs != nil {
		return fmt.Errorf("invalid configuration: %w", errs)
	}
	return nil
}

// Violations splits a Validate error, possibly wrapped further by Load, into
// its individual messages.
func Violations(err error) []string {
	var group interface{ Errors() []error }
	if !errors.As(err, &group) {
		return nil
	}
	var out []string
	for _, e := range group.Errors() {
		out = append(out, e.Error())
	}
	return out
}
