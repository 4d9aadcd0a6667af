package pattern

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"candlescan/internal/candle"
	"candlescan/internal/model"
)

var (
	// ErrUnknownPattern is returned for a name that is not registered.
	ErrUnknownPattern = errors.New("unknown pattern")

	// ErrDuplicatePattern is returned when registering a name twice.
	ErrDuplicatePattern = errors.New("duplicate pattern")

	// ErrPatternPanic wraps a panic recovered from a pattern test.
	ErrPatternPanic = errors.New("pattern test panicked")
)

// EvalError reports the failure of a single catalog entry.
type EvalError struct {
	Pattern string
	Err     error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("pattern %s: %v", e.Pattern, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Direction is the market bias a formation suggests.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Definition is one named formation.
type Definition struct {
	Name      string
	Direction Direction
	MinBars   int // fewest bars the test needs; shorter windows never match
	Test      candle.Predicate
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: pattern name is empty", model.ErrInvalidArgument)
	}
	if d.Test == nil {
		return fmt.Errorf("%w: pattern %s has no test", model.ErrInvalidArgument, d.Name)
	}
	if d.MinBars < 1 {
		return fmt.Errorf("%w: pattern %s needs MinBars >= 1, got %d", model.ErrInvalidArgument, d.Name, d.MinBars)
	}
	return nil
}

// Catalog is an append-only set of uniquely named definitions, kept in
// registration order. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	defs  []Definition
	index map[string]int
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Register adds def to the catalog.
func (c *Catalog) Register(def Definition) error {
	if err := def.validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[def.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePattern, def.Name)
	}
	c.index[def.Name] = len(c.defs)
	c.defs = append(c.defs, def)
	return nil
}

// MustRegister registers every definition and panics on the first failure.
func (c *Catalog) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Definitions returns a snapshot of all definitions in registration order.
func (c *Catalog) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Names returns the registered names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.defs))
	for _, d := range c.defs {
		names = append(names, d.Name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
