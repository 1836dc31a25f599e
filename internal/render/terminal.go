package render

import (
	"fmt"

	"github.com/charmbracelet/glamour"
)

const defaultTerminalWidth = 80

// Terminal renders Markdown for a terminal of the given width.
func Terminal(content string, width int) (string, error) {
	if width <= 0 {
		width = defaultTerminalWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("render: create terminal renderer: %w", err)
	}
	out, err := r.Render(content)
	if err != nil {
		return "", fmt.Errorf("render: terminal: %w", err)
	}
	return out, nil
}
