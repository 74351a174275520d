package embedded

import (
	"github.com/vmihailenco/msgpack/v5"

	"relay.dev/nostr"
)

// storedEvent is the msgpack-encoded value behind an "ev:" key. msgpack is
// used here instead of re-marshaling to JSON (grounded on the teacher's
// go.mod dependency on vmihailenco/msgpack/v5) so persisted rows are compact
// and tolerate field additions without a migration.
type storedEvent struct {
	ID          string
	Pubkey      string
	CreatedAt   int64
	Kind        uint16
	Tags        [][]string
	Content     string
	Sig         string
	DelegatedBy string
	Hidden      bool
}

func toStored(e *nostr.Event) *storedEvent {
	tags := make([][]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = []string(t)
	}
	return &storedEvent{
		ID: e.ID, Pubkey: e.Pubkey, CreatedAt: e.CreatedAt,
		Kind: uint16(e.Kind), Tags: tags, Content: e.Content,
		Sig: e.Sig, DelegatedBy: e.DelegatedBy,
	}
}

func (s *storedEvent) toEvent() *nostr.Event {
	tags := make(nostr.Tags, len(s.Tags))
	for i, t := range s.Tags {
		tags[i] = nostr.Tag(t)
	}
	return &nostr.Event{
		ID: s.ID, Pubkey: s.Pubkey, CreatedAt: s.CreatedAt,
		Kind: nostr.Kind(s.Kind), Tags: tags, Content: s.Content,
		Sig: s.Sig, DelegatedBy: s.DelegatedBy,
	}
}

func encodeEventStruct(s *storedEvent) ([]byte, error) {
	return msgpack.Marshal(s)
}

func decodeEvent(b []byte) (*nostr.Event, error) {
	s, err := decodeStoredEvent(b)
	if err != nil {
		return nil, err
	}
	return s.toEvent(), nil
}

func decodeStoredEvent(b []byte) (*storedEvent, error) {
	var s storedEvent
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
