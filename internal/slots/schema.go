// Package slots holds the slot schema and the Pattern Store: per slot and
// candidate value, the keywords, compiled regular expressions and semantic
// reference phrases used by the extraction strategies.
package slots

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
)

//go:embed default_patterns.yaml
var defaultPatterns []byte

// Definition is the authored pattern file.
type Definition struct {
	Slots []SlotDef `yaml:"slots"`
}

// SlotDef declares one slot and its candidate values.
type SlotDef struct {
	Name     string     `yaml:"name"`
	Prompt   string     `yaml:"prompt"`   // Elicitation question shown when the slot is missing
	Priority int        `yaml:"priority"` // Lower asks first
	Required bool       `yaml:"required"` // Required slots gate product recommendation
	Values   []ValueDef `yaml:"values"`
}

// ValueDef declares one candidate value with its reference material.
type ValueDef struct {
	Value    string   `yaml:"value"`
	Label    string   `yaml:"label"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
	Phrases  []string `yaml:"phrases"`
}

// Default returns the built-in notebook schema.
func Default() Definition {
	def, err := Parse(defaultPatterns)
	if err != nil {
		panic(fmt.Sprintf("slots: embedded default patterns are invalid: %v", err))
	}
	return def
}

// LoadFile reads a YAML definition from path.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read pattern file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML definition. Unknown fields are rejected
// so that typos in hand-authored files surface at load time.
func Parse(data []byte) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("decode pattern file: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate checks structural rules. Regex validity is not checked here:
// bad patterns are dropped during compilation instead.
func (d Definition) Validate() error {
	if len(d.Slots) == 0 {
		return domerrors.NewValidationError("slots", "at least one slot is required")
	}
	seenSlots := make(map[string]bool, len(d.Slots))
	for _, s := range d.Slots {
		if strings.TrimSpace(s.Name) == "" {
			return domerrors.NewValidationError("slots.name", "slot name must not be empty")
		}
		if seenSlots[s.Name] {
			return domerrors.NewValidationError("slots.name", fmt.Sprintf("duplicate slot %q", s.Name))
		}
		seenSlots[s.Name] = true
		if len(s.Values) == 0 {
			return domerrors.NewValidationError(s.Name, "slot declares no candidate values")
		}
		seenValues := make(map[string]bool, len(s.Values))
		for _, v := range s.Values {
			if strings.TrimSpace(v.Value) == "" {
				return domerrors.NewValidationError(s.Name, "candidate value must not be empty")
			}
			if seenValues[v.Value] {
				return domerrors.NewValidationError(s.Name, fmt.Sprintf("duplicate value %q", v.Value))
			}
			seenValues[v.Value] = true
		}
	}
	return nil
}

// SlotInfo is the read-only metadata of one slot.
type SlotInfo struct {
	Name     string
	Prompt   string
	Priority int
	Required bool
	Labels   map[string]string // value -> display label
}

// Label returns the display label for value, falling back to the value itself.
func (i SlotInfo) Label(value string) string {
	if l := i.Labels[value]; l != "" {
		return l
	}
	return value
}

// Schema maps slot names to their allowed candidate values.
// It is immutable once built and shared read-only across sessions.
type Schema struct {
	order  []string // slot names by priority, then name
	values map[string][]string
	info   map[string]SlotInfo
}

// NewSchema builds a Schema from a definition.
func NewSchema(def Definition) *Schema {
	s := &Schema{
		values: make(map[string][]string, len(def.Slots)),
		info:   make(map[string]SlotInfo, len(def.Slots)),
	}
	for _, sd := range def.Slots {
		vals := make([]string, 0, len(sd.Values))
		labels := make(map[string]string, len(sd.Values))
		for _, v := range sd.Values {
			vals = append(vals, v.Value)
			labels[v.Value] = v.Label
		}
		s.values[sd.Name] = vals
		s.info[sd.Name] = SlotInfo{
			Name:     sd.Name,
			Prompt:   sd.Prompt,
			Priority: sd.Priority,
			Required: sd.Required,
			Labels:   labels,
		}
		s.order = append(s.order, sd.Name)
	}
	slices.SortStableFunc(s.order, func(a, b string) int {
		if d := s.info[a].Priority - s.info[b].Priority; d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	return s
}

// Slots returns slot names in elicitation order.
func (s *Schema) Slots() []string {
	return slices.Clone(s.order)
}

// Values returns the candidate values of slot in authored order.
func (s *Schema) Values(slot string) []string {
	return slices.Clone(s.values[slot])
}

// Has reports whether value is allowed for slot.
func (s *Schema) Has(slot, value string) bool {
	return slices.Contains(s.values[slot], value)
}

// Info returns metadata for slot.
func (s *Schema) Info(slot string) (SlotInfo, bool) {
	info, ok := s.info[slot]
	return info, ok
}

// Required returns the required slots in elicitation order.
func (s *Schema) Required() []string {
	var out []string
	for _, name := range s.order {
		if s.info[name].Required {
			out = append(out, name)
		}
	}
	return out
}

// Subset returns a schema restricted to the given slots. Unknown names are ignored.
func (s *Schema) Subset(names []string) *Schema {
	sub := &Schema{
		values: make(map[string][]string, len(names)),
		info:   make(map[string]SlotInfo, len(names)),
	}
	for _, name := range s.order {
		if !slices.Contains(names, name) {
			continue
		}
		sub.order = append(sub.order, name)
		sub.values[name] = s.values[name]
		sub.info[name] = s.info[name]
	}
	return sub
}
