//go:build unix

package rendezvous

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/sigrt/internal/signals"
)

const frameSize = 4

// Socket publishes endpoints as unix datagram sockets in Dir. Each datagram
// carries one signal number, little-endian.
type Socket struct {
	Dir string
	Log *logrus.Entry
}

// NewSocket returns a socket rendezvous rooted at dir, creating it if needed.
func NewSocket(dir string, log *logrus.Entry) (*Socket, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create rendezvous dir %s: %w", dir, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Socket{Dir: dir, Log: log}, nil
}

func (s *Socket) path(hostID int) string {
	return filepath.Join(s.Dir, Name(hostID))
}

// Publish implements Rendezvous.
func (s *Socket) Publish(hostID int, sink Sink) (io.Closer, error) {
	if sink == nil {
		return nil, fmt.Errorf("publish %s: nil sink", Name(hostID))
	}
	path := s.path(hostID)
	if _, err := os.Lstat(path); err == nil {
		// A leftover socket from a dead process is replaced; a live one wins.
		if probe, err := net.Dial("unixgram", path); err == nil {
			probe.Close()
			return nil, fmt.Errorf("publish %s: %w", Name(hostID), ErrEndpointExists)
		}
		_ = os.Remove(path)
	}
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", Name(hostID), err)
	}
	pub := &socketPublication{conn: conn, path: path, done: make(chan struct{})}
	go pub.serve(sink, s.Log.WithField("endpoint", Name(hostID)))
	return pub, nil
}

// Open implements Rendezvous.
func (s *Socket) Open(hostID int) (Handle, error) {
	conn, err := net.Dial("unixgram", s.path(hostID))
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ECONNREFUSED) {
			return nil, fmt.Errorf("open %s: %w", Name(hostID), ErrNoEndpoint)
		}
		return nil, fmt.Errorf("open %s: %w", Name(hostID), err)
	}
	return &socketHandle{conn: conn}, nil
}

type socketPublication struct {
	conn *net.UnixConn
	path string
	once sync.Once
	done chan struct{}
}

func (p *socketPublication) serve(sink Sink, log *logrus.Entry) {
	defer close(p.done)
	buf := make([]byte, 64)
	for {
		n, _, err := p.conn.ReadFromUnix(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Warn("rendezvous read failed")
			}
			return
		}
		if n != frameSize {
			log.WithField("bytes", n).Warn("discarding malformed rendezvous frame")
			continue
		}
		sink.Post(signals.Signal(int32(binary.LittleEndian.Uint32(buf[:frameSize]))))
	}
}

func (p *socketPublication) Close() error {
	var err error
	p.once.Do(func() {
		err = p.conn.Close()
		<-p.done
		if rmErr := os.Remove(p.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	})
	return err
}

type socketHandle struct {
	conn net.Conn
}

func (h *socketHandle) Post(sig signals.Signal) error {
	var frame [frameSize]byte
	binary.LittleEndian.PutUint32(frame[:], uint32(int32(sig)))
	if _, err := h.conn.Write(frame[:]); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("post %s: %w", sig, ErrNoEndpoint)
		}
		return fmt.Errorf("post %s: %w", sig, err)
	}
	return nil
}

func (h *socketHandle) Close() error {
	return h.conn.Close()
}
