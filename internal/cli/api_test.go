package cli

import (
	stdcontext "context"
	"errors"
	"testing"

	"github.com/Paintersrp/sigrt/internal/api"
	"github.com/Paintersrp/sigrt/internal/signals"
)

func TestControlAPI_NilGuards(t *testing.T) {
	var ctrl *ControlAPI

	if _, err := ctrl.Status(stdcontext.Background()); !errors.Is(err, api.ErrNoProcess) {
		t.Fatalf("expected ErrNoProcess for Status, got %v", err)
	}

	if _, err := ctrl.Signal(stdcontext.Background(), 0, signals.SIGHUP); !errors.Is(err, api.ErrNoProcess) {
		t.Fatalf("expected ErrNoProcess for Signal, got %v", err)
	}

	if NewControlAPI(nil, nil) != nil {
		t.Fatalf("expected nil controller without a process")
	}
}
