package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"trade-setup-assistant/internal/logging"
)

// ErrNoStrategy is returned when no selected strategy resolves to logic text
var ErrNoStrategy = errors.New("no strategy with resolvable logic selected")

// Strategy is a named block of rule text handed to the model verbatim
type Strategy struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Logic       string `json:"logic"`
}

// Catalog maps strategy names to their logic
type Catalog struct {
	strategies map[string]Strategy
	mu         sync.RWMutex
}

func NewCatalog(strategies ...Strategy) *Catalog {
	c := &Catalog{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		c.Put(s)
	}
	return c
}

// LoadFile reads a JSON array of strategies. A missing file yields an empty catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.WithComponent("strategy").Warn("Strategy file not found, starting with an empty catalog", "path", path)
		return NewCatalog(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	var list []Strategy
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}
	c := NewCatalog(list...)
	logging.WithComponent("strategy").Info("Strategy catalog loaded", "count", len(c.strategies))
	return c, nil
}

// Put adds or replaces a strategy
func (c *Catalog) Put(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[s.Name] = s
}

// Get returns a strategy by name
func (c *Catalog) Get(name string) (Strategy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.strategies[name]
	return s, ok
}

// Names lists the catalog in name order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.strategies))
	for n := range c.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the selected strategies whose logic is non-empty, in
// selection order. Unknown or blank entries are skipped; an empty result
// is ErrNoStrategy.
func (c *Catalog) Resolve(names []string) ([]Strategy, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Strategy
	for _, n := range names {
		s, ok := c.strategies[n]
		if !ok || strings.TrimSpace(s.Logic) == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrNoStrategy
	}
	return out, nil
}
