//go:build unix

package procdir

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const descriptorExt = ".yaml"

// File keeps one YAML descriptor per process in Dir so that separate host
// processes can see each other.
type File struct {
	Dir string
	Log *logrus.Entry
	// Alive reports whether a host process still exists. Defaults to a
	// signal-0 probe.
	Alive func(hostPid int) bool
}

// NewFile returns a directory rooted at dir, creating it if needed.
func NewFile(dir string, log *logrus.Entry) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create process directory %s: %w", dir, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &File{Dir: dir, Log: log, Alive: hostAlive}, nil
}

func hostAlive(hostPid int) bool {
	err := unix.Kill(hostPid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func (f *File) path(pid int) string {
	return filepath.Join(f.Dir, strconv.Itoa(pid)+descriptorExt)
}

func (f *File) Publish(d Descriptor) error {
	if d.Pid <= 0 {
		return fmt.Errorf("publish descriptor: invalid pid %d", d.Pid)
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor %d: %w", d.Pid, err)
	}
	if err := atomicwriter.WriteFile(f.path(d.Pid), data, 0o644); err != nil {
		return fmt.Errorf("write descriptor %d: %w", d.Pid, err)
	}
	return nil
}

func (f *File) Remove(pid int, instance string) error {
	d, err := f.read(pid)
	if err != nil {
		return fmt.Errorf("remove %d: %w", pid, err)
	}
	if instance != "" && d.Instance != instance {
		return nil
	}
	if err := os.Remove(f.path(pid)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %d: %w", pid, err)
	}
	return nil
}

func (f *File) Lookup(pid int) (Descriptor, error) {
	d, err := f.read(pid)
	if err != nil {
		return Descriptor{}, fmt.Errorf("lookup %d: %w", pid, err)
	}
	return f.settle(d), nil
}

func (f *File) List() ([]Descriptor, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		return nil, fmt.Errorf("list process directory: %w", err)
	}
	var out []Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, descriptorExt) {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSuffix(name, descriptorExt))
		if err != nil {
			continue
		}
		d, err := f.read(pid)
		if err != nil {
			// Lost a race with Remove, or a partial file from another writer.
			f.Log.WithError(err).WithField("pid", pid).Debug("skipping descriptor")
			continue
		}
		out = append(out, f.settle(d))
	}
	sortByPid(out)
	return out, nil
}

func (f *File) read(pid int) (Descriptor, error) {
	data, err := os.ReadFile(f.path(pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Descriptor{}, ErrNotFound
		}
		return Descriptor{}, err
	}
	var d Descriptor
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fmt.Errorf("decode descriptor %d: %w", pid, err)
	}
	return d, nil
}

// settle reports descriptors whose host process died without cleaning up as
// exited.
func (f *File) settle(d Descriptor) Descriptor {
	if d.Exited() || d.HostPid <= 0 || f.Alive == nil {
		return d
	}
	if !f.Alive(d.HostPid) {
		d.State = StateExited
	}
	return d
}
