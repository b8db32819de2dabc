package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	units "github.com/docker/go-units"

	"github.com/Paintersrp/sigrt/internal/signals"
)

// WaitRecord is one reaped child status, ready for JSON encoding.
type WaitRecord struct {
	Timestamp time.Time `json:"ts"`
	Pid       int       `json:"pid"`
	Command   string    `json:"command,omitempty"`
	Level     string    `json:"level"`
	Status    string    `json:"status"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	CoreDump  bool      `json:"core_dump,omitempty"`
	UserTime  string    `json:"utime,omitempty"`
	SysTime   string    `json:"stime,omitempty"`
	MaxRSS    string    `json:"max_rss,omitempty"`
}

// NewWaitRecord describes the status a wait call returned for pid. Command
// lines are redacted before they are recorded.
func NewWaitRecord(pid int, command string, status signals.WaitStatus, usage signals.Rusage) WaitRecord {
	rec := WaitRecord{
		Timestamp: time.Now(),
		Pid:       pid,
		Command:   RedactSecrets(command),
		Level:     inferWaitLevel(status),
		Status:    status.String(),
	}
	switch {
	case status.Exited():
		code := status.ExitStatus()
		rec.ExitCode = &code
	case status.Signaled():
		rec.Signal = status.Signal().String()
		rec.CoreDump = status.CoreDump()
	case status.Stopped():
		rec.Signal = status.StopSignal().String()
	}
	if usage.Utime > 0 || usage.Stime > 0 {
		rec.UserTime = usage.Utime.String()
		rec.SysTime = usage.Stime.String()
	}
	if usage.MaxRSS > 0 {
		// Host rusage reports maxrss in KiB.
		rec.MaxRSS = units.BytesSize(float64(usage.MaxRSS) * 1024)
	}
	return rec
}

func inferWaitLevel(status signals.WaitStatus) string {
	switch {
	case status.Signaled():
		return "error"
	case status.Stopped():
		return "warn"
	case status.ExitStatus() != 0:
		return "warn"
	default:
		return "info"
	}
}

// EncodeWaitRecord encodes rec to JSON, reporting errors to stderr if needed.
func EncodeWaitRecord(enc *json.Encoder, stderr io.Writer, rec WaitRecord) {
	if enc == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := enc.Encode(&rec); err != nil {
		fmt.Fprintf(stderr, "error: encode wait status: %v\n", err)
	}
}

// FormatWaitRecord renders rec as a single human-readable line.
func FormatWaitRecord(rec WaitRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", rec.Pid, rec.Status)
	if rec.Command != "" {
		fmt.Fprintf(&b, "  %s", rec.Command)
	}
	if rec.UserTime != "" {
		fmt.Fprintf(&b, "  (user %s, sys %s", rec.UserTime, rec.SysTime)
		if rec.MaxRSS != "" {
			fmt.Fprintf(&b, ", rss %s", rec.MaxRSS)
		}
		b.WriteString(")")
	}
	return b.String()
}
