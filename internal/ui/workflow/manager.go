// Package workflow tracks the requests the chat has in flight and renders them as a
// breadcrumb line with a progress bar while any are outstanding.
package workflow

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/ui/components"
)

var workflowStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#CBA6F7")).
	Padding(0, 1)

// Exchange is one outstanding request
type Exchange struct {
	ID      string
	Kind    string
	Stream  bool
	Started time.Time
}

// Manager tracks outstanding exchanges. The batch counters reset once every
// exchange has finished, so the progress bar covers one burst of requests.
type Manager struct {
	inFlight map[string]Exchange
	started  int
	finished int
	width    int
}

// NewManager creates a new Workflow Manager.
func NewManager() *Manager {
	return &Manager{inFlight: make(map[string]Exchange)}
}

// Begin records an exchange as in flight
func (m *Manager) Begin(ex Exchange) {
	if _, exists := m.inFlight[ex.ID]; exists {
		return
	}
	if ex.Started.IsZero() {
		ex.Started = time.Now()
	}
	m.inFlight[ex.ID] = ex
	m.started++
}

// End marks an exchange finished and returns how long it ran
func (m *Manager) End(id string) (time.Duration, bool) {
	ex, exists := m.inFlight[id]
	if !exists {
		return 0, false
	}
	delete(m.inFlight, id)
	m.finished++
	if len(m.inFlight) == 0 {
		m.started, m.finished = 0, 0
	}
	return time.Since(ex.Started), true
}

// Clear forgets every exchange, as after a dispose or reconnect
func (m *Manager) Clear() {
	m.inFlight = make(map[string]Exchange)
	m.started, m.finished = 0, 0
}

// IsActive returns true if any exchange is in flight.
func (m *Manager) IsActive() bool {
	return len(m.inFlight) > 0
}

// Count returns the number of exchanges in flight
func (m *Manager) Count() int {
	return len(m.inFlight)
}

// SetWidth sets the rendering width of the workflow component.
func (m *Manager) SetWidth(width int) {
	m.width = width
}

// View renders the breadcrumb line, or "" when idle
func (m *Manager) View() string {
	if !m.IsActive() {
		return ""
	}

	exchanges := make([]Exchange, 0, len(m.inFlight))
	for _, ex := range m.inFlight {
		exchanges = append(exchanges, ex)
	}
	sort.Slice(exchanges, func(i, j int) bool {
		return exchanges[i].Started.Before(exchanges[j].Started)
	})

	crumbs := make([]string, len(exchanges))
	for i, ex := range exchanges {
		crumbs[i] = ex.Kind
		if ex.Stream {
			crumbs[i] += "~"
		}
	}
	breadcrumbText := fmt.Sprintf("In flight: %s (%d/%d)", strings.Join(crumbs, " › "), m.finished, m.started)

	availableWidth := m.width - lipgloss.Width(breadcrumbText) - 8
	if availableWidth < 10 {
		availableWidth = 10
	}
	progressBar := components.RenderProgressBar((m.finished*100)/m.started, availableWidth, "●", "○")

	fullView := lipgloss.JoinHorizontal(lipgloss.Left, breadcrumbText, " ", progressBar)
	if m.width > 2 {
		return workflowStyle.Width(m.width - 2).Render(fullView)
	}
	return workflowStyle.Render(fullView)
}
