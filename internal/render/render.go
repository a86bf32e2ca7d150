package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/fluxytools/chatai/internal/models"
)

const (
	// SidebarTitleLimit is the number of runes of a session title shown in a list
	SidebarTitleLimit = 25

	TimeLayout = "15:04"
	DateLayout = "Jan 2, 2006"
)

// Control tokens some models leak into their replies
var controlTokens = []string{
	"<|User|>",
	"<|Assistant|>",
	"<|end▁of▁sentence|>",
}

// CleanContent strips model control tokens and surrounding whitespace
func CleanContent(content string) string {
	for _, tok := range controlTokens {
		content = strings.ReplaceAll(content, tok, "")
	}
	return strings.TrimSpace(content)
}

// DisplayTitle shortens a session title for list display
func DisplayTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= SidebarTitleLimit {
		return title
	}
	return string(runes[:SidebarTitleLimit]) + "..."
}

// RelativeDate describes t relative to now in whole elapsed days
func RelativeDate(t, now time.Time) string {
	days := int(now.Sub(t) / (24 * time.Hour))
	switch {
	case days <= 0:
		return "Today"
	case days == 1:
		return "Yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format(DateLayout)
	}
}

// MessageTime formats the time a message was sent
func MessageTime(t time.Time) string {
	return t.Local().Format(TimeLayout)
}

// Renderer turns assistant replies into terminal output
type Renderer struct {
	markdown *glamour.TermRenderer
}

// NewRenderer creates a renderer wrapping at wordWrap columns. A
// non-positive wordWrap disables markdown styling.
func NewRenderer(wordWrap int) *Renderer {
	r := &Renderer{}
	if wordWrap <= 0 {
		return r
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wordWrap),
	)
	if err == nil {
		r.markdown = tr
	}
	return r
}

// Markdown renders cleaned content, falling back to the plain text
func (r *Renderer) Markdown(content string) string {
	content = CleanContent(content)
	if r.markdown == nil {
		return content
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return out
}

// Message formats one message with its author and time
func (r *Renderer) Message(m models.Message) string {
	stamp := MessageTime(m.Timestamp)
	if m.Role == models.RoleUser {
		return fmt.Sprintf("[%s] you: %s\n", stamp, m.Content)
	}
	return fmt.Sprintf("[%s] assistant:\n%s\n", stamp, strings.TrimRight(r.Markdown(m.Content), "\n"))
}

// SessionLine formats one session entry of a list
func SessionLine(s models.Session, current bool, now time.Time) string {
	marker := " "
	if current {
		marker = "*"
	}
	return fmt.Sprintf("%s %s  %s  (%s)", marker, s.ID, DisplayTitle(s.Title), RelativeDate(s.CreatedAt, now))
}
