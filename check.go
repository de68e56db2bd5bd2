// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"slices"
	"sync"
)

// Rule is a predicate over a payload.
type Rule func(data []byte) bool

// CheckStage validates payloads against an ordered list of rules.
//
// Both directions evaluate every rule and pass the data through unchanged.
type CheckStage struct {
	mu    sync.RWMutex
	rules []Rule
}

var _ Stage = &CheckStage{}

// NewCheckStage returns a [*CheckStage] with the given rules.
func NewCheckStage(rules ...Rule) *CheckStage {
	return &CheckStage{rules: slices.Clone(rules)}
}

// AddRule appends a rule.
func (s *CheckStage) AddRule(rule Rule) {
	s.mu.Lock()
	s.rules = append(s.rules, rule)
	s.mu.Unlock()
}

// Protect implements [Stage].
func (s *CheckStage) Protect(data []byte) ([]byte, error) {
	return s.check("check.protect", data)
}

// Expose implements [Stage].
func (s *CheckStage) Expose(data []byte) ([]byte, error) {
	return s.check("check.expose", data)
}

// check does not report which rule failed.
func (s *CheckStage) check(op string, data []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rule := range s.rules {
		if !rule(data) {
			return nil, NewError(KindGuard, op, ErrValidation)
		}
	}
	return data, nil
}

// MaxLength returns a [Rule] accepting payloads of at most n bytes.
func MaxLength(n int) Rule {
	return func(data []byte) bool { return len(data) <= n }
}

// MinLength returns a [Rule] accepting payloads of at least n bytes.
func MinLength(n int) Rule {
	return func(data []byte) bool { return len(data) >= n }
}

// NotEmpty returns a [Rule] rejecting empty payloads.
func NotEmpty() Rule {
	return MinLength(1)
}
