package content

import (
	"fmt"
	"strings"
	"sync"
)

// FoldState tracks which transcript entries show their code blocks collapsed.
// Entries are keyed by message id.
type FoldState struct {
	mu        sync.RWMutex
	overrides map[string]bool
	collapsed bool
}

// NewFoldState creates a fold state where entries default to expanded
func NewFoldState() *FoldState {
	return &FoldState{overrides: make(map[string]bool)}
}

// IsCollapsed reports whether code in the entry is folded
func (fs *FoldState) IsCollapsed(id string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	if v, ok := fs.overrides[id]; ok {
		return v
	}
	return fs.collapsed
}

// Toggle flips one entry and returns its new state
func (fs *FoldState) Toggle(id string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.overrides[id]
	if !ok {
		v = fs.collapsed
	}
	fs.overrides[id] = !v
	return !v
}

// SetAll folds or unfolds every entry and clears per-entry overrides
func (fs *FoldState) SetAll(collapsed bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.collapsed = collapsed
	fs.overrides = make(map[string]bool)
}

// RenderFolded is RenderMessage with closed code blocks reduced to a one-line
// summary. Open blocks stay visible so a streaming reply never hides its tail.
func (r *Renderer) RenderFolded(text string, width int, collapsed bool) string {
	if !collapsed {
		return r.RenderMessage(text, width)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var parts []string
	for _, seg := range ParseSegments(text) {
		switch {
		case seg.Kind == SegmentCode && seg.Closed:
			parts = append(parts, r.themes.Style("code_label").Render(foldSummary(seg)))
		case seg.Kind == SegmentCode:
			parts = append(parts, r.renderCode(seg, width))
		default:
			parts = append(parts, r.wrap(seg.Body, width))
		}
	}
	return strings.Join(parts, "\n")
}

func foldSummary(seg Segment) string {
	lines := 0
	if seg.Body != "" {
		lines = strings.Count(seg.Body, "\n") + 1
	}
	lang := seg.Language
	if lang == "" {
		lang = "code"
	}
	unit := "lines"
	if lines == 1 {
		unit = "line"
	}
	return fmt.Sprintf("▶ %s (%d %s)", lang, lines, unit)
}
