// Package content renders streamed replies and error payloads for the terminal.
// Prose is wrapped with Lipgloss and fenced code is highlighted with Chroma.
package content

import (
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/universal-console/streamrpc/internal/interfaces"
	"github.com/universal-console/streamrpc/internal/logging"
)

// Renderer implements interfaces.ContentRenderer
type Renderer struct {
	mu          sync.RWMutex
	highlighter *SyntaxHighlighter
	themes      *ThemeManager
	logger      *logging.Logger
}

// NewRenderer creates a renderer using theme, or the built-in palette when nil
func NewRenderer(theme *interfaces.Theme) *Renderer {
	r := &Renderer{
		highlighter: NewSyntaxHighlighter("github", "terminal256"),
		themes:      NewThemeManager(),
		logger:      logging.GetContentLogger(),
	}
	if theme != nil {
		r.SetTheme(theme)
	}
	return r
}

// SetTheme switches palette and syntax style
func (r *Renderer) SetTheme(theme *interfaces.Theme) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.themes.SetTheme(theme)
	if theme.Syntax != "" {
		if err := r.highlighter.SetStyle(theme.Syntax); err != nil {
			r.logger.Warn("Unknown syntax style", "style", theme.Syntax)
		}
	}
}

// RenderMessage formats a possibly partial stream buffer
func (r *Renderer) RenderMessage(text string, width int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var parts []string
	for _, seg := range ParseSegments(text) {
		switch seg.Kind {
		case SegmentCode:
			parts = append(parts, r.renderCode(seg, width))
		default:
			parts = append(parts, r.wrap(seg.Body, width))
		}
	}
	return strings.Join(parts, "\n")
}

func (r *Renderer) wrap(text string, width int) string {
	style := r.themes.Style("text")
	if width > 0 {
		style = style.Width(width)
	}
	return style.Render(text)
}

func (r *Renderer) renderCode(seg Segment, width int) string {
	body, err := r.highlighter.Highlight(seg.Body, seg.Language)
	if err != nil {
		r.logger.Debug("Highlighting failed", "language", seg.Language, "error", err.Error())
	}

	style := r.themes.Style("code")
	if width > 4 {
		style = style.MaxWidth(width)
	}
	block := style.Render(body)
	if seg.Language != "" {
		block = r.themes.Style("code_label").Render(seg.Language) + "\n" + block
	}
	return block
}

// RenderError formats a failure with its type, hint and traceback
func (r *Renderer) RenderError(payload *interfaces.ErrorPayload, width int) string {
	if payload == nil {
		return ""
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	title := payload.Title
	if title == "" {
		title = "Unknown error"
	}
	header := "✗ " + title
	if payload.ErrorType != "" {
		header = fmt.Sprintf("✗ %s: %s", payload.ErrorType, title)
	}

	lines := []string{r.themes.Style("error").Render(header)}
	if payload.Hint != "" {
		lines = append(lines, r.themes.Style("info").Render("Hint: "+payload.Hint))
	}
	if payload.Traceback != "" {
		lines = append(lines, r.themes.Style("traceback").Render(strings.TrimRight(payload.Traceback, "\n")))
	}

	box := r.themes.Style("error_box")
	if width > 4 {
		box = box.Width(width - 2)
	}
	return box.Render(strings.Join(lines, "\n"))
}

// SyntaxHighlighter highlights code using Chroma
type SyntaxHighlighter struct {
	formatter chroma.Formatter
	style     *chroma.Style
}

// NewSyntaxHighlighter falls back to the GitHub style and the plain formatter
// for unknown names.
func NewSyntaxHighlighter(styleName, formatterName string) *SyntaxHighlighter {
	formatter := formatters.Get(formatterName)
	if formatter == nil {
		formatter = formatters.Fallback
	}
	style := styles.Get(styleName)
	if style == nil {
		style = styles.GitHub
	}
	return &SyntaxHighlighter{formatter: formatter, style: style}
}

// Highlight returns code unchanged alongside the error when tokenizing fails
func (sh *SyntaxHighlighter) Highlight(code, language string) (string, error) {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var out strings.Builder
	if err := sh.formatter.Format(&out, sh.style, iterator); err != nil {
		return code, err
	}
	return strings.TrimRight(out.String(), "\n"), nil
}

// SetStyle switches the Chroma style
func (sh *SyntaxHighlighter) SetStyle(name string) error {
	// styles.Get falls back to a default rather than returning nil
	if _, ok := styles.Registry[name]; !ok {
		return fmt.Errorf("style '%s' not found", name)
	}
	sh.style = styles.Get(name)
	return nil
}

// ThemeManager maps a profile theme onto Lipgloss styles
type ThemeManager struct {
	styles map[string]lipgloss.Style
}

func NewThemeManager() *ThemeManager {
	tm := &ThemeManager{}
	tm.initializeDefaultStyles()
	return tm
}

// SetTheme recolors the palette-driven styles
func (tm *ThemeManager) SetTheme(theme *interfaces.Theme) {
	if theme == nil {
		return
	}
	recolor := func(key, color string) {
		if color != "" {
			tm.styles[key] = tm.styles[key].Foreground(lipgloss.Color(color))
		}
	}
	recolor("error", theme.Error)
	recolor("info", theme.Info)
	recolor("status_open", theme.Success)
	recolor("status_connecting", theme.Warning)
	recolor("status_closing", theme.Warning)
	recolor("status_failed", theme.Error)
	if theme.Error != "" {
		tm.styles["error_box"] = tm.styles["error_box"].BorderForeground(lipgloss.Color(theme.Error))
	}
}

// Style returns the named style, or an empty one
func (tm *ThemeManager) Style(name string) lipgloss.Style {
	if style, ok := tm.styles[name]; ok {
		return style
	}
	return lipgloss.NewStyle()
}

func (tm *ThemeManager) initializeDefaultStyles() {
	tm.styles = map[string]lipgloss.Style{
		"text":                lipgloss.NewStyle(),
		"code":                lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("#888888")).Padding(0, 1),
		"code_label":          lipgloss.NewStyle().Foreground(lipgloss.Color("#6c757d")).Italic(true),
		"error":               lipgloss.NewStyle().Foreground(lipgloss.Color("#dc3545")).Bold(true),
		"error_box":           lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#dc3545")).Padding(0, 1),
		"info":                lipgloss.NewStyle().Foreground(lipgloss.Color("#17a2b8")),
		"traceback":           lipgloss.NewStyle().Foreground(lipgloss.Color("#6c757d")),
		"status_open":         lipgloss.NewStyle().Foreground(lipgloss.Color("#28a745")),
		"status_connecting":   lipgloss.NewStyle().Foreground(lipgloss.Color("#ffc107")),
		"status_closing":      lipgloss.NewStyle().Foreground(lipgloss.Color("#ffc107")),
		"status_failed":       lipgloss.NewStyle().Foreground(lipgloss.Color("#dc3545")),
		"status_disconnected": lipgloss.NewStyle().Foreground(lipgloss.Color("#6c757d")),
	}
}

// StatusStyle returns the style for a connection state
func (r *Renderer) StatusStyle(state interfaces.ConnState) lipgloss.Style {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.themes.Style("status_" + string(state))
}

var _ interfaces.ContentRenderer = (*Renderer)(nil)
