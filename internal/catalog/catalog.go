// Package catalog holds the static roleplay configuration: characters, modes,
// achievement definitions, scene templates and user-to-character assignments.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/rolecall/internal/domain"
	"gopkg.in/yaml.v3"
)

// Placeholder is substituted with the character-list phrase in scene templates.
const Placeholder = "{characters}"

//go:embed default.yaml
var defaultYAML []byte

// Character is a claimable role.
type Character struct {
	ID          string `yaml:"id" json:"id"`
	Role        string `yaml:"role" json:"role"`
	Description string `yaml:"description" json:"description"`
}

// Mode is a session flavour chosen when a session is opened.
type Mode struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Achievement unlocks once Counter reaches Threshold.
type Achievement struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Counter     string `yaml:"counter" json:"counter"`
	Threshold   int64  `yaml:"threshold" json:"threshold"`
}

// Satisfied reports whether the counters meet the achievement predicate.
func (a Achievement) Satisfied(c domain.Counters) bool {
	v, ok := c.Value(a.Counter)
	return ok && v >= a.Threshold
}

// Catalog is read-only after Load.
type Catalog struct {
	DefaultCreatorCharacter string            `yaml:"default_creator_character"`
	Characters              []Character       `yaml:"characters"`
	Modes                   []Mode            `yaml:"modes"`
	Achievements            []Achievement     `yaml:"achievements"`
	SceneTemplates          []string          `yaml:"scene_templates"`
	Assignments             map[string]string `yaml:"assignments"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog file, falling back to the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	normalized := make(map[string]string, len(c.Assignments))
	for k, v := range c.Assignments {
		normalized[strings.ToLower(strings.TrimSpace(k))] = v
	}
	c.Assignments = normalized

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

// Validate checks identifier uniqueness and cross references.
func (c *Catalog) Validate() error {
	var errs []error

	if len(c.Characters) == 0 {
		errs = append(errs, errors.New("at least one character is required"))
	}
	seen := make(map[string]bool)
	for _, ch := range c.Characters {
		switch {
		case ch.ID == "":
			errs = append(errs, errors.New("character id cannot be empty"))
		case seen[ch.ID]:
			errs = append(errs, fmt.Errorf("duplicate character %q", ch.ID))
		}
		seen[ch.ID] = true
	}
	if c.DefaultCreatorCharacter != "" && !seen[c.DefaultCreatorCharacter] {
		errs = append(errs, fmt.Errorf("default creator character %q is not in the catalog", c.DefaultCreatorCharacter))
	}
	for key, id := range c.Assignments {
		if !seen[id] {
			errs = append(errs, fmt.Errorf("assignment %q refers to unknown character %q", key, id))
		}
	}

	if len(c.Modes) == 0 {
		errs = append(errs, errors.New("at least one mode is required"))
	}
	modes := make(map[string]bool)
	for _, m := range c.Modes {
		if m.ID == "" || modes[m.ID] {
			errs = append(errs, fmt.Errorf("mode id %q is empty or duplicated", m.ID))
		}
		modes[m.ID] = true
	}

	achievements := make(map[string]bool)
	for _, a := range c.Achievements {
		if a.ID == "" || achievements[a.ID] {
			errs = append(errs, fmt.Errorf("achievement id %q is empty or duplicated", a.ID))
		}
		achievements[a.ID] = true
		if !domain.IsValidCounter(a.Counter) {
			errs = append(errs, fmt.Errorf("achievement %q uses unknown counter %q", a.ID, a.Counter))
		}
		if a.Threshold < 1 {
			errs = append(errs, fmt.Errorf("achievement %q threshold must be >= 1", a.ID))
		}
	}

	if len(c.SceneTemplates) == 0 {
		errs = append(errs, errors.New("at least one scene template is required"))
	}
	for i, t := range c.SceneTemplates {
		if !strings.Contains(t, Placeholder) {
			errs = append(errs, fmt.Errorf("scene template %d is missing %s", i, Placeholder))
		}
	}

	return errors.Join(errs...)
}

// Character looks up a character by id.
func (c *Catalog) Character(id string) (Character, bool) {
	for _, ch := range c.Characters {
		if ch.ID == id {
			return ch, true
		}
	}
	return Character{}, false
}

// Mode looks up a mode by id.
func (c *Catalog) Mode(id string) (Mode, bool) {
	for _, m := range c.Modes {
		if m.ID == id {
			return m, true
		}
	}
	return Mode{}, false
}

// Achievement looks up an achievement definition by id.
func (c *Catalog) Achievement(id string) (Achievement, bool) {
	for _, a := range c.Achievements {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// AssignedCharacter returns the character pre-assigned to a user, matching
// "@username", "username" and then the first name.
func (c *Catalog) AssignedCharacter(p domain.Profile) (string, bool) {
	if u := strings.ToLower(strings.TrimPrefix(p.Username, "@")); u != "" {
		if id, ok := c.Assignments["@"+u]; ok {
			return id, true
		}
		if id, ok := c.Assignments[u]; ok {
			return id, true
		}
	}
	if p.FirstName != "" {
		if id, ok := c.Assignments[strings.ToLower(p.FirstName)]; ok {
			return id, true
		}
	}
	return "", false
}

// CreatorCharacter returns the character a session opener is seated as.
func (c *Catalog) CreatorCharacter(p domain.Profile) string {
	if id, ok := c.AssignedCharacter(p); ok {
		return id
	}
	if c.DefaultCreatorCharacter != "" {
		return c.DefaultCreatorCharacter
	}
	return c.Characters[0].ID
}
