// Package prompt turns a persona and a reference image into the
// prompt text pair a render workflow consumes. The agent-driven
// generation pipeline is an external collaborator; this package
// defines the boundary and ships a template-based generator for
// offline and fallback use.
package prompt

import (
	"context"
	"math/rand"
	"strings"

	"github.com/glowworks/atelier/errors"
)

// Text is one generated prompt pair.
type Text struct {
	Positive string
	Negative string
}

// Generator produces prompt text for a persona and reference image.
type Generator interface {
	Generate(ctx context.Context, persona, refImage string) (Text, error)
}

// TemplateGenerator fills a fixed template per persona, choosing one
// scene variation per call. Deterministic when Seed is set.
type TemplateGenerator struct {
	// Templates maps persona to positive-prompt templates; the
	// placeholder {persona} is substituted.
	Templates map[string][]string
	// Negative is appended to every request's negative prompt.
	Negative string
	rng      *rand.Rand
}

// NewTemplateGenerator creates a generator over the given persona
// templates. seed fixes variation choice for reproducible runs; pass
// 0 to keep it deterministic per template order.
func NewTemplateGenerator(templates map[string][]string, negative string, seed int64) *TemplateGenerator {
	return &TemplateGenerator{
		Templates: templates,
		Negative:  negative,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Generate picks a template for the persona and substitutes the
// placeholders. Unknown personas are an error rather than a silent
// generic prompt.
func (g *TemplateGenerator) Generate(ctx context.Context, persona, refImage string) (Text, error) {
	variants, ok := g.Templates[persona]
	if !ok || len(variants) == 0 {
		// An explicit "default" entry serves personas without their
		// own templates.
		variants, ok = g.Templates["default"]
		if !ok || len(variants) == 0 {
			return Text{}, errors.Newf("no prompt templates for persona %q", persona)
		}
	}

	template := variants[g.rng.Intn(len(variants))]
	positive := strings.ReplaceAll(template, "{persona}", persona)

	return Text{
		Positive: positive,
		Negative: g.Negative,
	}, nil
}

// Static returns a Generator that always produces the same text.
// Useful for single-shot CLI renders where the caller supplies the
// prompt directly.
func Static(positive, negative string) Generator {
	return staticGenerator{Text{Positive: positive, Negative: negative}}
}

type staticGenerator struct {
	text Text
}

func (s staticGenerator) Generate(ctx context.Context, persona, refImage string) (Text, error) {
	if s.text.Positive == "" {
		return Text{}, errors.New("static prompt is empty")
	}
	return s.text, nil
}
