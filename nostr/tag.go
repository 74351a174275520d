package nostr

// Tag is one ordered row of a nostr event's tag list.
type Tag []string

// Name returns the tag's first element, or "" if empty.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's second element, or "" if it has fewer than two.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Indexable reports whether this tag row participates in the tag index:
// length >= 2 and a single-ASCII-letter name (spec §3).
func (t Tag) Indexable() bool {
	if len(t) < 2 || len(t[0]) != 1 {
		return false
	}
	c := t[0][0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Tags is the ordered, non-unique list of tag rows on an event.
type Tags []Tag

// ValuesByName returns every value of tags whose name matches.
func (ts Tags) ValuesByName(name string) (out []string) {
	for _, t := range ts {
		if t.Name() == name && len(t) >= 2 {
			out = append(out, t.Value())
		}
	}
	return
}

// First returns the first tag with the given name, or nil.
func (ts Tags) First(name string) Tag {
	for _, t := range ts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// CountByName returns how many rows have the given name.
func (ts Tags) CountByName(name string) (n int) {
	for _, t := range ts {
		if t.Name() == name {
			n++
		}
	}
	return
}
