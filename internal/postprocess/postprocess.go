// Package postprocess turns raw decoder text into the LaTeX (or Typst)
// returned to clients.
package postprocess

import (
	"errors"
	"regexp"
	"strings"

	"github.com/kennethnrk/mixtex-ocr/internal/common/errdefs"
)

// Options selects the optional rewrites. They always run in the order
// ConvertAlign, UseDollars, UseTypst.
type Options struct {
	ConvertAlign bool
	UseDollars   bool
	UseTypst     bool
}

// Converter rewrites LaTeX into another markup.
type Converter interface {
	Convert(latex string) (string, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(string) (string, error)

func (f ConverterFunc) Convert(s string) (string, error) { return f(s) }

// Processor applies the rewrite pipeline. It holds no per-call state.
type Processor struct {
	typst Converter
}

// New returns a Processor that uses typst for UseTypst. typst may be nil,
// in which case UseTypst requests fail.
func New(typst Converter) *Processor {
	return &Processor{typst: typst}
}

var delimiterReplacer = strings.NewReplacer(
	`\[`, `\begin{align*}`,
	`\]`, `\end{align*}`,
	`%`, `\%`,
)

// NormalizeDelimiters rewrites display math brackets as an align*
// environment and escapes percent signs.
func NormalizeDelimiters(text string) string {
	return delimiterReplacer.Replace(text)
}

var alignMarkers = regexp.MustCompile(`\\begin\{align\*\}|\\end\{align\*\}`)

// ConvertAlignToEquations flattens an align* block into one $$ ... $$ line
// per row.
func ConvertAlignToEquations(text string) string {
	text = alignMarkers.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&", "")

	var out []string
	for _, eq := range strings.Split(strings.TrimSpace(text), `\\`) {
		eq = strings.TrimSpace(eq)
		eq = strings.ReplaceAll(eq, `\[`, "")
		eq = strings.ReplaceAll(eq, `\]`, "")
		eq = strings.ReplaceAll(eq, "\n", "")
		if eq != "" {
			out = append(out, "$$ "+eq+" $$")
		}
	}
	return strings.Join(out, "\n")
}

var dollarReplacer = strings.NewReplacer(`\(`, "$", `\)`, "$")

// UseDollars replaces \( and \) with $.
func UseDollars(text string) string {
	return dollarReplacer.Replace(text)
}

// Process runs the pipeline on raw. Only the Typst step can fail; its
// error is an errdefs.KindTypstConversionFailure and no partial text is
// returned.
func (p *Processor) Process(raw string, opts Options) (string, error) {
	result := NormalizeDelimiters(raw)
	if opts.ConvertAlign {
		result = ConvertAlignToEquations(result)
	}
	if opts.UseDollars {
		result = UseDollars(result)
	}
	if opts.UseTypst {
		const op = "convert to typst"
		if p.typst == nil {
			return "", errdefs.New(errdefs.KindTypstConversionFailure, op, errors.New("no typst converter configured"))
		}
		converted, err := p.typst.Convert(result)
		if err != nil {
			return "", errdefs.New(errdefs.KindTypstConversionFailure, op, err)
		}
		result = converted
	}
	return result, nil
}
