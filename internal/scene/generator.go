// Package scene builds the narrated opening of a roleplay session.
package scene

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ashureev/rolecall/internal/catalog"
)

// EveryonePhrase stands in for the cast when nobody has joined.
const EveryonePhrase = "the whole band"

// maxNamedCharacters is the largest cast that is spelled out in full.
const maxNamedCharacters = 3

// Generator picks a template uniformly at random and fills in the cast.
type Generator struct {
	templates []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator over templates. A nil rng uses the
// process-wide source.
func NewGenerator(templates []string, rng *rand.Rand) *Generator {
	return &Generator{
		templates: append([]string(nil), templates...),
		rng:       rng,
	}
}

// Generate returns an opening scene for the given character names.
// mode is accepted so callers stay stable once modes get their own templates.
func (g *Generator) Generate(characters []string, mode string) string {
	_ = mode
	if len(g.templates) == 0 {
		return CharacterPhrase(characters)
	}
	template := g.templates[g.pick(len(g.templates))]
	return strings.ReplaceAll(template, catalog.Placeholder, CharacterPhrase(characters))
}

func (g *Generator) pick(n int) int {
	if g.rng == nil {
		return rand.IntN(n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.IntN(n)
}

// CharacterPhrase renders the cast: everyone when empty, the first two plus
// "and others" for large casts, otherwise all names joined with "and".
func CharacterPhrase(names []string) string {
	switch {
	case len(names) == 0:
		return EveryonePhrase
	case len(names) > maxNamedCharacters:
		return strings.Join(names[:2], ", ") + " and others"
	default:
		return strings.Join(names, " and ")
	}
}
