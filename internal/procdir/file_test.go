//go:build unix

package procdir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestFileDirectory(t *testing.T) {
	t.Parallel()

	dir, err := NewFile(t.TempDir(), nil)
	assert.NilError(t, err)
	dir.Alive = func(hostPid int) bool { return hostPid != 999 }

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	self := Descriptor{
		Pid: 10, PPid: 1, Pgid: 10, Sid: 10, Ctty: NoTTY,
		HostPid: os.Getpid(), State: StateActive, Command: "sigrt serve",
		StartedAt: started, Instance: NewInstance(),
	}
	dead := Descriptor{Pid: 11, PPid: 10, Pgid: 10, HostPid: 999, State: StateActive, Instance: NewInstance()}
	assert.NilError(t, dir.Publish(self))
	assert.NilError(t, dir.Publish(dead))

	got, err := dir.Lookup(10)
	assert.NilError(t, err)
	assert.Check(t, is.DeepEqual(got, self))

	got, err = dir.Lookup(11)
	assert.NilError(t, err)
	assert.Check(t, got.Exited())

	list, err := dir.List()
	assert.NilError(t, err)
	assert.Check(t, is.Len(list, 2))
	assert.Check(t, is.Equal(list[0].Pid, 10))
	assert.Check(t, is.Equal(list[1].State, StateExited))

	assert.NilError(t, dir.Remove(11, dead.Instance))
	_, err = dir.Lookup(11)
	assert.Check(t, errdefs.IsNotFound(err))
}

func TestFileDirectorySkipsForeignFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir, err := NewFile(root, nil)
	assert.NilError(t, err)

	assert.NilError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "abc.yaml"), []byte("pid: 1"), 0o644))
	assert.NilError(t, os.WriteFile(filepath.Join(root, "12.yaml"), []byte("bogus_field: 1\n"), 0o644))

	list, err := dir.List()
	assert.NilError(t, err)
	assert.Check(t, is.Len(list, 0))
}
