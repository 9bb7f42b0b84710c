// Package catalog loads the static auction configuration: the rules, the
// bidding teams and the roster of players up for auction.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/DoyleJ11/ipl-auction-backend/internal/engine"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

var ErrInvalidCatalog = errors.New("invalid catalog")

type Catalog struct {
	Rules engine.Rules  `yaml:"rules"`
	Teams []string      `yaml:"teams"`
	Items []engine.Item `yaml:"items"`
}

// Default returns the built-in roster of ten players and ten franchises.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file. An empty path selects the built-in roster.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the default rules, so a file may override only
// the rules it cares about.
func Parse(data []byte) (*Catalog, error) {
	c := Catalog{Rules: engine.DefaultRules()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog: %w", ErrInvalidCatalog, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every problem in the catalog, not just the first.
func (c *Catalog) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidCatalog}, args...)...))
	}

	if err := c.Rules.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrInvalidCatalog, err))
	}
	if len(c.Teams) == 0 {
		add("no teams")
	}
	if len(c.Items) == 0 {
		add("no items")
	}

	teams := map[string]bool{}
	for i, name := range c.Teams {
		switch {
		case name == "":
			add("team %d has no name", i)
		case teams[name]:
			add("duplicate team %q", name)
		}
		teams[name] = true
	}

	items := map[string]bool{}
	for i, it := range c.Items {
		switch {
		case it.Name == "":
			add("item %d has no name", i)
		case items[it.Name]:
			add("duplicate item %q", it.Name)
		}
		items[it.Name] = true
		if it.BasePrice <= 0 {
			add("item %q has non-positive base price %d", it.Name, it.BasePrice)
		}
	}
	return errs
}

// State builds the initial engine state for this catalog.
func (c *Catalog) State() (engine.State, error) {
	return engine.NewState(c.Items, c.Teams, c.Rules)
}
