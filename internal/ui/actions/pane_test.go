package actions

import (
	"strings"
	"testing"

	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
)

func TestPane(t *testing.T) {
	recovery := errors.NewRecoveryManager()
	pane := NewPane(recovery)
	pane.SetWidth(80)

	if pane.IsVisible() || pane.View() != "" {
		t.Fatal("pane should be hidden without a session")
	}

	if _, err := recovery.StartSession(&errors.ProcessedError{
		Message: "connection lost",
		RecoveryActions: []interfaces.Action{
			errors.ActionReconnect,
			errors.ActionDismiss,
			{Name: "Custom", Command: "custom", Type: "unknown"},
		},
	}); err != nil {
		t.Fatal(err)
	}

	if !pane.IsVisible() {
		t.Fatal("pane should be visible")
	}
	view := pane.View()
	for _, want := range []string{"[1] 🔄 Reconnect", "[2] ✕ Dismiss", "[3] Custom"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q: %q", want, view)
		}
	}

	tests := []struct {
		n    int
		want string
		ok   bool
	}{
		{1, errors.CommandReconnect, true},
		{2, errors.CommandDismiss, true},
		{3, "custom", true},
		{0, "", false},
		{4, "", false},
	}
	for _, tt := range tests {
		action, ok := pane.ActionByNumber(tt.n)
		if ok != tt.ok || action.Command != tt.want {
			t.Errorf("ActionByNumber(%d) = %q, %v; want %q, %v", tt.n, action.Command, ok, tt.want, tt.ok)
		}
	}
}
