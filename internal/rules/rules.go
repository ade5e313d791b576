// Package rules rewrites recognized transcripts with user-maintained substitutions
// before they reach the description.
//
// A rules file holds one rule per line. Blank lines and lines starting with # are
// ignored.
//
//	extra large => XL        whole-word, case-insensitive phrase replacement
//	s/\bv\s*neck\b/V-neck/g  sed-style regular expression (flags i, g, m, s)
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"voicedesc/internal/ports"
)

const defaultIterationLimit = 30

// ErrNotConverged is returned when rules keep rewriting each other's output.
var ErrNotConverged = errors.New("substitution rules did not converge")

// Rule rewrites text. changed reports whether output differs from input.
type Rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser compiles one line of a rules file.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (Rule, error)
}

// Config selects the rules to load.
type Config struct {
	Path           string
	IterationLimit int
	Parsers        []Parser
}

// Engine applies substitution rules until the text stops changing.
type Engine struct {
	rules          []Rule
	iterationLimit int
}

// Load reads cfg.Path. A missing file yields an engine that returns text unchanged.
func Load(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return New(nil, cfg.IterationLimit), nil
	}

	contents, err := os.ReadFile(cfg.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(nil, cfg.IterationLimit), nil
		}
		return nil, fmt.Errorf("read rules file %q: %w", cfg.Path, err)
	}

	parsed, err := Parse(string(contents), cfg.Parsers...)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %q: %w", cfg.Path, err)
	}
	return New(parsed, cfg.IterationLimit), nil
}

func New(rules []Rule, iterationLimit int) *Engine {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	return &Engine{rules: rules, iterationLimit: iterationLimit}
}

// Len reports how many rules are loaded.
func (e *Engine) Len() int { return len(e.rules) }

// Apply runs every rule in order, repeating the pass until nothing changes.
// When any rule fired, runs of whitespace left behind by removals are collapsed.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	result := text
	rewritten := false
	for pass := 0; pass < e.iterationLimit; pass++ {
		changed := false
		for _, rule := range e.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			if rewritten {
				result = strings.Join(strings.Fields(result), " ")
			}
			return result, nil
		}
		rewritten = true
	}
	return "", fmt.Errorf("%w after %d passes", ErrNotConverged, e.iterationLimit)
}

var _ ports.TextRules = (*Engine)(nil)
