// Package milestone tracks per-user progress toward catalog milestones and
// gates their one-time claim.
package milestone

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"gopkg.in/yaml.v3"

	"github.com/cppla/habitledger/clock"
	"github.com/cppla/habitledger/models"
)

//go:embed milestones.yaml
var defaultCatalogYAML []byte

// display names are plain text; strip every tag.
var namePolicy = bluemonday.StrictPolicy()

// Definition is an immutable catalog entry.
type Definition struct {
	ID               string `yaml:"id" json:"id"`
	DisplayName      string `yaml:"display_name" json:"display_name"`
	RequiredProgress int    `yaml:"required_progress" json:"required_progress"`
	RewardCredits    int64  `yaml:"reward_credits" json:"reward_credits"`
	Category         string `yaml:"category" json:"category,omitempty"`
	StartDate        string `yaml:"start_date" json:"start_date,omitempty"`
	EndDate          string `yaml:"end_date" json:"end_date,omitempty"`
}

// ActiveOn reports whether day falls inside the inclusive availability window.
func (d Definition) ActiveOn(day string) bool {
	return clock.InRange(day, d.StartDate, d.EndDate)
}

type catalogFile struct {
	Version    int          `yaml:"version"`
	Milestones []Definition `yaml:"milestones"`
}

// Catalog is the read-only set of milestone definitions.
type Catalog struct {
	defs  map[string]Definition
	order []string
}

// DefaultCatalog parses the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads path, or returns the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read milestone catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse milestone catalog: %w", err)
	}
	return NewCatalog(f.Milestones)
}

// NewCatalog validates defs and builds a Catalog.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		d.ID = strings.TrimSpace(d.ID)
		d.DisplayName = strings.TrimSpace(namePolicy.Sanitize(d.DisplayName))
		if err := check(d); err != nil {
			return nil, err
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, fmt.Errorf("milestone %q: duplicate id", d.ID)
		}
		c.defs[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

func check(d Definition) error {
	switch {
	case d.ID == "":
		return fmt.Errorf("milestone without id")
	case len(d.ID) > 64:
		return fmt.Errorf("milestone %q: id longer than 64", d.ID)
	case d.RequiredProgress <= 0:
		return fmt.Errorf("milestone %q: required_progress must be positive", d.ID)
	case d.RewardCredits <= 0:
		return fmt.Errorf("milestone %q: reward_credits must be positive", d.ID)
	case d.Category != "" && !models.ValidCategory(d.Category):
		return fmt.Errorf("milestone %q: unknown category %q", d.ID, d.Category)
	}
	for _, day := range []string{d.StartDate, d.EndDate} {
		if day == "" {
			continue
		}
		if _, err := clock.ParseDay(day); err != nil {
			return fmt.Errorf("milestone %q: %w", d.ID, err)
		}
	}
	if d.StartDate != "" && d.EndDate != "" && d.StartDate > d.EndDate {
		return fmt.Errorf("milestone %q: start_date after end_date", d.ID)
	}
	return nil
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// All returns every definition ordered by id.
func (c *Catalog) All() []Definition {
	out := make([]Definition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.defs[id])
	}
	return out
}

// ForCategory returns the definitions bound to category that are active on day.
func (c *Catalog) ForCategory(category, day string) []Definition {
	var out []Definition
	for _, id := range c.order {
		d := c.defs[id]
		if d.Category == category && d.ActiveOn(day) {
			out = append(out, d)
		}
	}
	return out
}
