package slots

import (
	"regexp"
	"strings"
	"sync/atomic"

	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/stringutil"
)

// CompiledPattern pairs a regex source with its compiled form.
type CompiledPattern struct {
	Source string
	Re     *regexp.Regexp
}

// PatternEntry is the reference material of one (slot, value) pair.
// Compiled holds exactly the sources of RegexSources that compiled, in order.
type PatternEntry struct {
	Slot            string
	Value           string
	Keywords        []string // case-folded
	RegexSources    []string // as authored
	Compiled        []CompiledPattern
	SemanticPhrases []string
}

// ReferencePhrases returns keywords and semantic phrases, used by fuzzy matching.
func (e *PatternEntry) ReferencePhrases() []string {
	out := make([]string, 0, len(e.Keywords)+len(e.SemanticPhrases))
	out = append(out, e.Keywords...)
	out = append(out, e.SemanticPhrases...)
	return out
}

// CompilationReport lists every pattern dropped during compilation.
type CompilationReport struct {
	Compiled int
	Errors   []*domerrors.PatternCompilationError
}

// OK reports whether every pattern compiled.
func (r *CompilationReport) OK() bool {
	return len(r.Errors) == 0
}

type entryKey struct{ slot, value string }

type snapshot struct {
	def     Definition
	schema  *Schema
	entries map[entryKey]*PatternEntry
	report  *CompilationReport
}

// Store is the Pattern Store. Reads go through an immutable snapshot;
// Reload builds a new snapshot and swaps it in, so in-flight readers never
// observe a partially built store.
type Store struct {
	current atomic.Pointer[snapshot]
	logger  *logger.Logger
}

// NewStore compiles def eagerly and returns a ready store.
func NewStore(def Definition, log *logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	s := &Store{logger: log.WithModule("slots")}
	s.Reload(def)
	return s
}

// Entry returns the pattern entry of (slot, value).
func (s *Store) Entry(slot, value string) (*PatternEntry, bool) {
	e, ok := s.current.Load().entries[entryKey{slot, value}]
	return e, ok
}

// Schema returns the slot schema of the active snapshot.
func (s *Store) Schema() *Schema {
	return s.current.Load().schema
}

// Report returns the compilation report of the active snapshot.
func (s *Store) Report() *CompilationReport {
	return s.current.Load().report
}

// Definition returns the authored definition of the active snapshot.
func (s *Store) Definition() Definition {
	return s.current.Load().def
}

// CompileAll recompiles the active definition. Compiling the same sources
// always yields the same entries and report.
func (s *Store) CompileAll() *CompilationReport {
	return s.Reload(s.current.Load().def)
}

// Reload compiles def into a new snapshot and publishes it.
func (s *Store) Reload(def Definition) *CompilationReport {
	snap := compile(def)
	for _, e := range snap.report.Errors {
		s.logger.WithError(e.Err).
			WithField("slot", e.Slot).
			WithField("value", e.Value).
			WithField("pattern", e.Pattern).
			Warn("Dropping invalid pattern")
	}
	s.current.Store(snap)
	s.logger.WithField("slots", len(def.Slots)).
		WithField("patterns", snap.report.Compiled).
		WithField("errors", len(snap.report.Errors)).
		Info("Pattern store compiled")
	return snap.report
}

func compile(def Definition) *snapshot {
	snap := &snapshot{
		def:     def,
		schema:  NewSchema(def),
		entries: make(map[entryKey]*PatternEntry),
		report:  &CompilationReport{},
	}

	for _, sd := range def.Slots {
		for _, vd := range sd.Values {
			entry := &PatternEntry{
				Slot:            sd.Name,
				Value:           vd.Value,
				RegexSources:    append([]string(nil), vd.Patterns...),
				SemanticPhrases: nonEmpty(vd.Phrases, stringutil.Normalize),
				Keywords:        nonEmpty(vd.Keywords, stringutil.Fold),
			}
			for _, src := range vd.Patterns {
				re, err := compilePattern(src)
				if err != nil {
					snap.report.Errors = append(snap.report.Errors, &domerrors.PatternCompilationError{
						Slot:    sd.Name,
						Value:   vd.Value,
						Pattern: src,
						Err:     err,
					})
					continue
				}
				entry.Compiled = append(entry.Compiled, CompiledPattern{Source: src, Re: re})
				snap.report.Compiled++
			}
			snap.entries[entryKey{sd.Name, vd.Value}] = entry
		}
	}
	return snap
}

// compilePattern compiles src case-insensitively unless it sets its own flags.
func compilePattern(src string) (*regexp.Regexp, error) {
	if strings.TrimSpace(src) == "" {
		return nil, domerrors.ErrInvalidInput
	}
	if !strings.HasPrefix(src, "(?") {
		src = "(?i)" + src
	}
	return regexp.Compile(src)
}

func nonEmpty(in []string, fn func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = fn(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
