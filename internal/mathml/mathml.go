// Package mathml renders recognized LaTeX as a MathML fragment for browser
// previews.
package mathml

import (
	"bytes"
	"fmt"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
)

// Renderer converts LaTeX math to HTML with embedded MathML. It is safe for
// concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				treeblood.MathML(),
			),
		),
	}
}

// Render wraps latex in display math delimiters and converts it. Input
// that already carries $$ delimiters is unwrapped first.
func (r *Renderer) Render(latex string) (string, error) {
	body := strings.TrimSpace(latex)
	body = strings.TrimPrefix(body, "$$")
	body = strings.TrimSpace(strings.TrimSuffix(body, "$$"))
	if body == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := r.md.Convert([]byte("$$"+body+"$$"), &buf); err != nil {
		return "", fmt.Errorf("render mathml: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

var defaultRenderer = New()

// Render uses a shared Renderer.
func Render(latex string) (string, error) {
	return defaultRenderer.Render(latex)
}
