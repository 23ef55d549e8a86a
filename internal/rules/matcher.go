// Package rules compiles window title patterns and resolves a title to the
// opacity of the first rule that matches it.
package rules

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/bryanchriswhite/WinOpacity/internal/config"
)

// InvalidPatternError reports a rule whose pattern does not compile
type InvalidPatternError struct {
	Index   int
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("rule %d: invalid pattern %q: %v", e.Index, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// CompiledRule is a rule with its pattern compiled
type CompiledRule struct {
	// Index is the rule's position in the config's windows list
	Index   int
	Pattern *regexp.Regexp
	Opacity float64
}

// Set is an ordered list of compiled rules
type Set struct {
	rules []CompiledRule
}

// Compile compiles every rule in order. Rules whose pattern fails to compile
// are left out of the set and reported as *InvalidPatternError; the rest
// still apply.
func Compile(rules []config.OpacityRule) (*Set, []error) {
	set := &Set{rules: make([]CompiledRule, 0, len(rules))}
	var errs []error
	for i, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			errs = append(errs, &InvalidPatternError{Index: i, Pattern: rule.Pattern, Err: err})
			continue
		}
		set.rules = append(set.rules, CompiledRule{
			Index:   i,
			Pattern: re,
			Opacity: rule.Opacity,
		})
	}
	return set, errs
}

// Len returns the number of usable rules
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns the compiled rules in declared order
func (s *Set) Rules() []CompiledRule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Resolve returns the opacity of the first rule whose pattern matches
// anywhere in title. Declared order decides ties, not match length.
func (s *Set) Resolve(title string) (float64, bool) {
	rule, ok := s.Match(title)
	if !ok {
		return 0, false
	}
	return rule.Opacity, true
}

// Match returns the first rule matching title
func (s *Set) Match(title string) (CompiledRule, bool) {
	if s == nil {
		return CompiledRule{}, false
	}
	for _, rule := range s.rules {
		if rule.Pattern.MatchString(title) {
			return rule, true
		}
	}
	return CompiledRule{}, false
}

// Compiler caches the last compiled set and reuses it while the rules are
// unchanged. The config is re-read every cycle but rarely edited.
type Compiler struct {
	mu     sync.Mutex
	source []config.OpacityRule
	set    *Set
	errs   []error
}

// Compile returns the compiled set for rules, recompiling only when rules
// differ from the previous call.
func (c *Compiler) Compile(rules []config.OpacityRule) (*Set, []error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set != nil && sameRules(c.source, rules) {
		return c.set, c.errs, false
	}

	set, errs := Compile(rules)
	c.source = append([]config.OpacityRule(nil), rules...)
	c.set = set
	c.errs = errs
	return set, errs, true
}

func sameRules(a, b []config.OpacityRule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
