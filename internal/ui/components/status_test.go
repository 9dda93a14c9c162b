package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/content"
	"github.com/universal-console/streamrpc/internal/errors"
	"github.com/universal-console/streamrpc/internal/interfaces"
)

func TestRenderConnState(t *testing.T) {
	tests := []struct {
		state interfaces.ConnState
		want  string
	}{
		{interfaces.StateOpen, "Connected"},
		{interfaces.StateConnecting, "Connecting"},
		{interfaces.StateFailed, "Failed"},
		{interfaces.ConnState("weird"), "weird"},
	}
	for _, tt := range tests {
		if got := RenderConnState(tt.state); !strings.Contains(got, tt.want) {
			t.Errorf("RenderConnState(%s) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestRenderStatusBar(t *testing.T) {
	info := StatusInfo{
		Profile:    "local",
		Endpoint:   "ws://localhost:8080/ws",
		State:      interfaces.StateConnecting,
		Sent:       3,
		Received:   7,
		Reconnects: 2,
		Streams:    1,
		Attempt:    3,
	}
	bar := RenderStatusBar(info, 120)

	for _, want := range []string{"Connecting", "local", "attempt 3", "↑3 ↓7", "1 streaming", "2 reconnects"} {
		if !strings.Contains(bar, want) {
			t.Errorf("status bar missing %q: %q", want, bar)
		}
	}
	if w := lipgloss.Width(bar); w > 120 {
		t.Errorf("status bar width %d exceeds 120", w)
	}
}

func TestRenderStatusBarFirstAttempt(t *testing.T) {
	bar := RenderStatusBar(StatusInfo{Profile: "p", State: interfaces.StateConnecting, Attempt: 1}, 80)
	if strings.Contains(bar, "attempt") {
		t.Errorf("first attempt should not be called out: %q", bar)
	}
}

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		progress int
		width    int
		want     string
	}{
		{0, 4, "[....]"},
		{50, 4, "[##..]"},
		{100, 4, "[####]"},
		{150, 2, "[##]"},
		{-5, 2, "[..]"},
		{50, 0, ""},
	}
	for _, tt := range tests {
		if got := RenderProgressBar(tt.progress, tt.width, "#", "."); got != tt.want {
			t.Errorf("RenderProgressBar(%d, %d) = %q, want %q", tt.progress, tt.width, got, tt.want)
		}
	}
}

func TestRenderErrorPane(t *testing.T) {
	if got := RenderErrorPane(nil, content.NewRenderer(nil), 80); got != "" {
		t.Errorf("nil error rendered %q", got)
	}

	pane := RenderErrorPane(&errors.ProcessedError{
		Timestamp:       time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		Code:            "TimeoutError",
		Message:         "no reply",
		Hint:            "try again",
		RecoveryActions: []interfaces.Action{errors.ActionRetry},
	}, content.NewRenderer(nil), 80)

	for _, want := range []string{"TimeoutError", "no reply", "try again", "at 15:04:05", "Recovery Actions:"} {
		if !strings.Contains(pane, want) {
			t.Errorf("pane missing %q", want)
		}
	}
}
