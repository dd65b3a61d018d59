package invalidation

import (
	"fmt"
	"sort"
	"sync"
)

// InvalidationRule binds an event name pattern to the tags that event
// should invalidate once its placeholders are resolved against the
// event's payload fields. Priority breaks ties in evaluation order when
// more than one rule matches the same event -- higher priority rules run
// (and therefore log/publish) first, though all matching rules always run.
type InvalidationRule struct {
	Name     string
	Pattern  *EventPattern
	Tags     []*TagTemplate
	Priority int
}

// NewInvalidationRule builds a rule from a raw event pattern string and raw
// tag template strings.
func NewInvalidationRule(name, pattern string, priority int, tagTemplates ...string) (*InvalidationRule, error) {
	ep, err := NewEventPattern(pattern)
	if err != nil {
		return nil, err
	}
	tags := make([]*TagTemplate, 0, len(tagTemplates))
	for _, tt := range tagTemplates {
		tags = append(tags, NewTagTemplate(tt))
	}
	return &InvalidationRule{Name: name, Pattern: ep, Tags: tags, Priority: priority}, nil
}

// ResolveTags resolves every tag template against values, returning the
// concrete tags this rule contributes for one event occurrence.
func (r *InvalidationRule) ResolveTags(values map[string]string) ([]string, error) {
	tags := make([]string, 0, len(r.Tags))
	for _, tmpl := range r.Tags {
		tag, err := tmpl.Resolve(values)
		if err != nil {
			return nil, fmt.Errorf("invalidation: rule %q: %w", r.Name, err)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// InvalidationRegistry holds the set of rules an event is matched against,
// kept sorted by descending priority so callers that care about evaluation
// order (e.g. audit log ordering) see the highest-priority rule's effects
// first.
type InvalidationRegistry struct {
	mu    sync.RWMutex
	rules []*InvalidationRule
}

// NewInvalidationRegistry builds an empty registry.
func NewInvalidationRegistry() *InvalidationRegistry {
	return &InvalidationRegistry{}
}

// Register adds rule to the registry, re-sorting by priority.
func (reg *InvalidationRegistry) Register(rule *InvalidationRule) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.rules = append(reg.rules, rule)
	sort.SliceStable(reg.rules, func(i, j int) bool {
		return reg.rules[i].Priority > reg.rules[j].Priority
	})
}

// Unregister removes the rule with the given name, if present.
func (reg *InvalidationRegistry) Unregister(name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for i, r := range reg.rules {
		if r.Name == name {
			reg.rules = append(reg.rules[:i], reg.rules[i+1:]...)
			return
		}
	}
}

// Rules returns a snapshot of the registered rules in priority order.
func (reg *InvalidationRegistry) Rules() []*InvalidationRule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*InvalidationRule, len(reg.rules))
	copy(out, reg.rules)
	return out
}

// Match returns every rule whose pattern matches eventName, in priority
// order.
func (reg *InvalidationRegistry) Match(eventName string) []*InvalidationRule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	matched := make([]*InvalidationRule, 0)
	for _, r := range reg.rules {
		if r.Pattern.Match(eventName) {
			matched = append(matched, r)
		}
	}
	return matched
}

// ResolveEvent matches eventName against the registry and resolves every
// matching rule's tag templates against values, returning the de-duplicated
// union of tags to invalidate plus which rule names contributed them (for
// audit logging).
func (reg *InvalidationRegistry) ResolveEvent(eventName string, values map[string]string) (tags []string, matchedRules []string, err error) {
	matches := reg.Match(eventName)
	if len(matches) == 0 {
		return nil, nil, nil
	}

	seen := make(map[string]struct{})
	for _, rule := range matches {
		resolved, rerr := rule.ResolveTags(values)
		if rerr != nil {
			return nil, nil, rerr
		}
		matchedRules = append(matchedRules, rule.Name)
		for _, t := range resolved {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tags = append(tags, t)
		}
	}
	return tags, matchedRules, nil
}
