package cli

import (
	stdcontext "context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	apihttp "github.com/Paintersrp/sigrt/internal/api/http"
	"github.com/Paintersrp/sigrt/internal/signals"
)

func TestServeCommandReportsAPIServerError(t *testing.T) {
	root, _ := newMemoryRoot(t)

	startErr := errors.New("serve failure")
	origNewAPIServer := newAPIServer
	t.Cleanup(func() {
		newAPIServer = origNewAPIServer
	})
	newAPIServer = func(cfg apihttp.Config) (*apihttp.Server, error) {
		cfg.Listener = &failingListener{addr: staticAddr("127.0.0.1:0"), err: startErr}
		return apihttp.NewServer(cfg)
	}

	stdout, stderr, err := execute(root, "serve", "--api", "127.0.0.1:0")
	if !errors.Is(err, startErr) {
		t.Fatalf("expected serve error %v, got %v (stderr: %s)", startErr, err, stderr)
	}
	if strings.Contains(stdout, "Control API listening") {
		t.Fatalf("expected no API startup message, got stdout: %s", stdout)
	}
}

func TestServeExitsWhenProcessIsKilled(t *testing.T) {
	root, env := newMemoryRoot(t)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := execute(root, "serve", "--name", "served")
		errCh <- err
	}()

	var target int
	deadline := time.Now().Add(5 * time.Second)
	for target == 0 && time.Now().Before(deadline) {
		ds, err := env.dir.List()
		assert.NilError(t, err)
		for _, d := range ds {
			if d.Command == "served" && !d.Initializing() {
				target = d.Pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	if target == 0 {
		t.Fatalf("serve never published its process")
	}

	killer, _ := startPeer(t, env)
	assert.NilError(t, killer.Kill(stdcontext.Background(), target, signals.SIGTERM))

	select {
	case err := <-errCh:
		var exitErr *exitError
		assert.Assert(t, errors.As(err, &exitErr), "got %v", err)
		assert.Equal(t, exitErr.code, 128+15)
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not exit after SIGTERM")
	}
}

type failingListener struct {
	addr net.Addr
	err  error
}

func (l *failingListener) Accept() (net.Conn, error) {
	return nil, l.err
}

func (l *failingListener) Close() error {
	return nil
}

func (l *failingListener) Addr() net.Addr {
	return l.addr
}

type staticAddr string

func (a staticAddr) Network() string { return "tcp" }

func (a staticAddr) String() string { return string(a) }
