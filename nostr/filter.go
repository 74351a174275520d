package nostr

import "strings"

// ReqFilter is one constraint-conjunction of a subscription (spec §3): a
// subscription matches an event if ANY of its filters match, and a filter
// matches only if ALL of its populated constraints match.
type ReqFilter struct {
	IDs     []string          `json:"ids,omitempty"`
	Authors []string          `json:"authors,omitempty"`
	Kinds   []Kind            `json:"kinds,omitempty"`
	Since   *int64            `json:"since,omitempty"`
	Until   *int64            `json:"until,omitempty"`
	Limit   *int              `json:"limit,omitempty"`
	Tags    map[string][]string `json:"-"`
}

// HasIDs, HasAuthors etc. report whether a constraint was specified, since a
// nil/empty slice in JSON is indistinguishable from "not present" once
// unmarshaled unless we track it explicitly via length.
func (f *ReqFilter) HasIDs() bool     { return len(f.IDs) > 0 }
func (f *ReqFilter) HasAuthors() bool { return len(f.Authors) > 0 }
func (f *ReqFilter) HasKinds() bool   { return len(f.Kinds) > 0 }
func (f *ReqFilter) HasTags() bool    { return len(f.Tags) > 0 }

// Matches applies this filter's constraints to a single event, for live
// broadcast matching (spec §4.5: "Live matching reuses the same predicate
// logic applied in-memory to a single event").
func (f *ReqFilter) Matches(e *Event) bool {
	if f.HasIDs() && !matchesHexPrefixAny(f.IDs, e.ID) {
		return false
	}
	if f.HasAuthors() {
		match := false
		for _, a := range f.Authors {
			if matchesHexPrefix(a, e.Pubkey) || (e.DelegatedBy != "" && matchesHexPrefix(a, e.DelegatedBy)) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.HasKinds() {
		match := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if f.Since != nil && e.CreatedAt <= *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt >= *f.Until {
		return false
	}
	for name, values := range f.Tags {
		have := e.Tags.ValuesByName(name)
		if !anyIntersect(values, have) {
			return false
		}
	}
	return true
}

func matchesHexPrefixAny(prefixes []string, id string) bool {
	for _, p := range prefixes {
		if matchesHexPrefix(p, id) {
			return true
		}
	}
	return false
}

func matchesHexPrefix(prefix, full string) bool {
	return strings.HasPrefix(full, strings.ToLower(prefix))
}

func anyIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Subscription is a server-side live query owned by a connection (spec §3).
type Subscription struct {
	ID      string
	Filters []*ReqFilter
}

// MaxSubIDLen is the spec-mandated maximum length of a client-chosen
// subscription id.
const MaxSubIDLen = 256

// Matches reports whether any of the subscription's filters match e.
func (s *Subscription) Matches(e *Event) bool {
	for _, f := range s.Filters {
		if f.Matches(e) {
			return true
		}
	}
	return false
}
