package nostr

import "encoding/json"

// reqFilterWire is the plain-field subset of ReqFilter that encoding/json
// can handle directly; `#<letter>` tag constraints are pulled out of the
// surrounding object manually since Go's json package has no notion of a
// dynamic-prefix field.
type reqFilterWire struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []Kind   `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
}

// UnmarshalJSON decodes a ReqFilter, collecting every "#x" key into Tags.
func (f *ReqFilter) UnmarshalJSON(data []byte) error {
	var wire reqFilterWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.IDs, f.Authors, f.Kinds, f.Since, f.Until, f.Limit =
		wire.IDs, wire.Authors, wire.Kinds, wire.Since, wire.Until, wire.Limit
	for k, v := range raw {
		if len(k) != 2 || k[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(v, &values); err != nil {
			continue
		}
		if f.Tags == nil {
			f.Tags = map[string][]string{}
		}
		f.Tags[k[1:]] = values
	}
	return nil
}

// MarshalJSON re-encodes a ReqFilter, re-flattening Tags back into "#x" keys.
func (f *ReqFilter) MarshalJSON() ([]byte, error) {
	m := map[string]any{}
	if f.HasIDs() {
		m["ids"] = f.IDs
	}
	if f.HasAuthors() {
		m["authors"] = f.Authors
	}
	if f.HasKinds() {
		m["kinds"] = f.Kinds
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit != nil {
		m["limit"] = *f.Limit
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	return json.Marshal(m)
}
