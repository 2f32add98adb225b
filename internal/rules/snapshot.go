// Package rules holds the anomaly rule engine: the immutable rule snapshot,
// the sliding window and cooldown state, and the per-event evaluation logic.
package rules

import (
	"sort"
	"time"

	"logwarden/internal/domain"
)

// Snapshot is an immutable view of the active rule set, grouped by variant
// for evaluation. Built once per reload and swapped in atomically; evaluation
// never observes a half-updated rule set.
type Snapshot struct {
	// levels indexes level rules by the level they match. Multiple rules per
	// level are kept in score order, highest first.
	levels map[domain.Level][]*domain.AnomalyRule

	// keywords holds keyword rules in score order, highest first.
	keywords []*domain.AnomalyRule

	// frequencies holds frequency rules in score order, highest first.
	frequencies []*domain.AnomalyRule

	// safeTemplates is the set of whitelisted template ids.
	safeTemplates map[int64]struct{}

	total    int
	loadedAt time.Time
}

// NewSnapshot groups the given rules by variant. Inactive rules are skipped.
func NewSnapshot(all []*domain.AnomalyRule) *Snapshot {
	s := &Snapshot{
		levels:        make(map[domain.Level][]*domain.AnomalyRule),
		keywords:      make([]*domain.AnomalyRule, 0),
		frequencies:   make([]*domain.AnomalyRule, 0),
		safeTemplates: make(map[int64]struct{}),
		loadedAt:      time.Now().UTC(),
	}

	active := make([]*domain.AnomalyRule, 0, len(all))
	for _, r := range all {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Score > active[j].Score
	})

	for _, r := range active {
		switch r.Type {
		case domain.RuleTypeLevel:
			s.levels[r.Level] = append(s.levels[r.Level], r)
		case domain.RuleTypeKeyword:
			s.keywords = append(s.keywords, r)
		case domain.RuleTypeFrequency:
			s.frequencies = append(s.frequencies, r)
		case domain.RuleTypeSafeTemplate:
			s.safeTemplates[r.TemplateID] = struct{}{}
		}
		s.total++
	}

	return s
}

// IsSafeTemplate returns true if the template id is whitelisted.
func (s *Snapshot) IsSafeTemplate(id int64) bool {
	_, ok := s.safeTemplates[id]
	return ok
}

// Total returns the number of active rules in the snapshot.
func (s *Snapshot) Total() int {
	return s.total
}

// Counts returns the number of active rules per variant.
func (s *Snapshot) Counts() map[domain.RuleType]int {
	levelCount := 0
	for _, rs := range s.levels {
		levelCount += len(rs)
	}
	return map[domain.RuleType]int{
		domain.RuleTypeLevel:        levelCount,
		domain.RuleTypeKeyword:      len(s.keywords),
		domain.RuleTypeFrequency:    len(s.frequencies),
		domain.RuleTypeSafeTemplate: len(s.safeTemplates),
	}
}

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time {
	return s.loadedAt
}
