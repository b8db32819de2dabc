package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/sigrt/internal/api"
	"github.com/Paintersrp/sigrt/internal/metrics"
	"github.com/Paintersrp/sigrt/internal/procdir"
	"github.com/Paintersrp/sigrt/internal/signals"
	"github.com/Paintersrp/sigrt/internal/sigproc"
)

type testController struct{}

func (t *testController) Status(stdcontext.Context) (*api.StatusReport, error) {
	return nil, nil
}

func (t *testController) Signal(stdcontext.Context, int, signals.Signal) (*api.SignalResult, error) {
	return nil, nil
}

func TestNewServerRejectsTypedNilController(t *testing.T) {
	var ctrl api.Controller = (*testController)(nil)
	_, err := NewServer(Config{Controller: ctrl})
	if err == nil {
		t.Fatalf("expected error when controller is typed nil")
	}
	if !strings.Contains(err.Error(), "testController") {
		t.Fatalf("expected error to describe typed nil controller, got %v", err)
	}
}

func TestNormalizeAddr(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":           defaultAddr,
		":80":        "127.0.0.1:80",
		"0.0.0.0:80": "0.0.0.0:80",
		"[::]:80":    "[::]:80",
		"host:9000":  "host:9000",
		"[::1]:443":  "[::1]:443",
	}

	for input, expected := range tests {
		input, expected := input, expected
		t.Run(fmt.Sprintf("%s->%s", input, expected), func(t *testing.T) {
			t.Parallel()
			if got := normalizeAddr(input); got != expected {
				t.Fatalf("normalizeAddr(%q)=%q, want %q", input, got, expected)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	ctrl := &mockController{
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return &api.StatusReport{
				Version:     "1",
				GeneratedAt: time.Unix(123, 0),
				Process:     sigproc.Snapshot{Pid: 42, Blocked: []string{"INT"}},
				Peers:       []procdir.Descriptor{{Pid: 43, State: procdir.StateActive}},
			}, nil
		},
	}
	server := newTestServer(t, ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	server.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", rec.Code)
	}

	var body api.StatusReport
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed decoding response: %v", err)
	}
	if body.Process.Pid != 42 {
		t.Fatalf("expected pid 42, got %d", body.Process.Pid)
	}
	if len(body.Peers) != 1 || body.Peers[0].Pid != 43 {
		t.Fatalf("unexpected peers %+v", body.Peers)
	}
}

func TestHandleStatusError(t *testing.T) {
	ctrl := &mockController{
		statusFn: func(stdcontext.Context) (*api.StatusReport, error) {
			return nil, errors.New("boom")
		},
	}
	server := newTestServer(t, ctrl)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	server.handleStatus(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Code != "internal_error" {
		t.Fatalf("expected internal_error code, got %q", body.Code)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &mockController{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	server.handleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Fatalf("expected Allow header %q, got %q", http.MethodGet, allow)
	}
}

func TestHandleSignal(t *testing.T) {
	ctrl := &mockController{
		signalFn: func(_ stdcontext.Context, pid int, sig signals.Signal) (*api.SignalResult, error) {
			if pid != 12 || sig != signals.SIGHUP {
				t.Fatalf("unexpected request pid=%d sig=%s", pid, sig)
			}
			return &api.SignalResult{Pid: pid, Signal: sig.String()}, nil
		},
	}
	server := newTestServer(t, ctrl)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signal/hup?pid=12", nil)
	rec := httptest.NewRecorder()
	server.handleSignal(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]api.SignalResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if got := body["signal"]; got.Pid != 12 || got.Signal != "SIGHUP" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestHandleSignalErrors(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		err    error
		status int
		code   string
	}{
		{name: "missing signal", path: "/api/v1/signal/", status: http.StatusBadRequest, code: "invalid_argument"},
		{name: "unknown signal", path: "/api/v1/signal/FOO", status: http.StatusBadRequest, code: "invalid_argument"},
		{name: "bad pid", path: "/api/v1/signal/TERM?pid=x", status: http.StatusBadRequest, code: "invalid_argument"},
		{name: "no such process", path: "/api/v1/signal/TERM?pid=9", err: sigproc.ErrNoSuchProcess, status: http.StatusNotFound, code: "no_such_process"},
		{name: "permission", path: "/api/v1/signal/TERM?pid=9", err: sigproc.ErrPermission, status: http.StatusForbidden, code: "permission_denied"},
		{name: "timeout", path: "/api/v1/signal/TERM", err: sigproc.ErrCompletionTimeout, status: http.StatusGatewayTimeout, code: "completion_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &mockController{
				signalFn: func(stdcontext.Context, int, signals.Signal) (*api.SignalResult, error) {
					if tc.err == nil {
						t.Fatal("controller should not be called")
					}
					return nil, fmt.Errorf("send: %w", tc.err)
				},
			}
			server := newTestServer(t, ctrl)
			req := httptest.NewRequest(http.MethodPost, tc.path, nil)
			rec := httptest.NewRecorder()
			server.handleSignal(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			var body errorBody
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if body.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Code)
			}
			details, ok := body.Details.(map[string]any)
			if !ok {
				t.Fatalf("expected map details, got %T", body.Details)
			}
			if _, ok := details["timestamp"]; !ok {
				t.Fatalf("expected timestamp key in details")
			}
		})
	}
}

func TestHandleSignalMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &mockController{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/signal/TERM", nil)
	rec := httptest.NewRecorder()
	server.handleSignal(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t, &mockController{})

	metrics.SignalDelivered("USR1", "handler")
	metrics.EmitBuildInfo()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `sigrt_signals_delivered_total{disposition="handler",signal="USR1"}`) {
		t.Fatalf("expected delivered counter in metrics output, got:\n%s", body)
	}
	if !strings.Contains(body, "sigrt_build_info{") {
		t.Fatalf("expected metrics output to include build info, got:\n%s", body)
	}
}

type mockController struct {
	statusFn func(stdcontext.Context) (*api.StatusReport, error)
	signalFn func(stdcontext.Context, int, signals.Signal) (*api.SignalResult, error)
}

func (m *mockController) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx)
	}
	return nil, nil
}

func (m *mockController) Signal(ctx stdcontext.Context, pid int, sig signals.Signal) (*api.SignalResult, error) {
	if m.signalFn != nil {
		return m.signalFn(ctx, pid, sig)
	}
	return nil, nil
}

func newTestServer(t *testing.T, ctrl api.Controller) *Server {
	t.Helper()
	server, err := NewServer(Config{Controller: ctrl})
	if err != nil {
		t.Fatalf("failed creating server: %v", err)
	}
	return server
}
