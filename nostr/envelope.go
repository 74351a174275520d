package nostr

import (
	"encoding/json"

	"relay.dev/internal/relayerr"
)

// Client-to-server envelope labels (spec §6).
const (
	LabelEvent = "EVENT"
	LabelReq   = "REQ"
	LabelClose = "CLOSE"
	LabelAuth  = "AUTH"
)

// Server-to-client envelope labels (spec §6).
const (
	LabelEOSE   = "EOSE"
	LabelNotice = "NOTICE"
	LabelOK     = "OK"
)

// EventEnvelope is a decoded `["EVENT", e]` client message.
type EventEnvelope struct {
	Event *Event
}

// ReqEnvelope is a decoded `["REQ", sub_id, f1, f2, ...]` client message.
type ReqEnvelope struct {
	SubID   string
	Filters []*ReqFilter
}

// CloseEnvelope is a decoded `["CLOSE", sub_id]` client message.
type CloseEnvelope struct {
	SubID string
}

// AuthEnvelope is a decoded `["AUTH", e]` client message. ParseClientEnvelope
// fills only Event and never sets Challenge; the server's challenge push is
// rendered by EncodeAuthChallenge.
type AuthEnvelope struct {
	Event     *Event
	Challenge string
}

// ParseClientEnvelope decodes one client-to-server frame into the envelope
// type its label names, per the tuple forms in spec §6.
func ParseClientEnvelope(raw []byte) (any, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, relayerr.Wrap(relayerr.ProtocolParse, err, "decoding frame array")
	}
	if len(parts) == 0 {
		return nil, relayerr.New(relayerr.ProtocolParse, "empty frame")
	}
	var label string
	if err := json.Unmarshal(parts[0], &label); err != nil {
		return nil, relayerr.Wrap(relayerr.ProtocolParse, err, "decoding frame label")
	}
	switch label {
	case LabelEvent:
		if len(parts) != 2 {
			return nil, relayerr.New(relayerr.ProtocolParse, "EVENT frame must have exactly one event element")
		}
		var e Event
		if err := json.Unmarshal(parts[1], &e); err != nil {
			return nil, relayerr.Wrap(relayerr.EventMalformed, err, "decoding event")
		}
		e.DeriveDelegation()
		return &EventEnvelope{Event: &e}, nil

	case LabelReq:
		if len(parts) < 2 {
			return nil, relayerr.New(relayerr.ProtocolParse, "REQ frame missing sub_id")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, relayerr.Wrap(relayerr.ProtocolParse, err, "decoding sub_id")
		}
		filters := make([]*ReqFilter, 0, len(parts)-2)
		for _, raw := range parts[2:] {
			var f ReqFilter
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, relayerr.Wrap(relayerr.ProtocolParse, err, "decoding filter")
			}
			filters = append(filters, &f)
		}
		return &ReqEnvelope{SubID: subID, Filters: filters}, nil

	case LabelClose:
		if len(parts) != 2 {
			return nil, relayerr.New(relayerr.ProtocolParse, "CLOSE frame must have exactly one sub_id element")
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, relayerr.Wrap(relayerr.ProtocolParse, err, "decoding sub_id")
		}
		return &CloseEnvelope{SubID: subID}, nil

	case LabelAuth:
		if len(parts) != 2 {
			return nil, relayerr.New(relayerr.ProtocolParse, "AUTH frame must have exactly one event element")
		}
		var e Event
		if err := json.Unmarshal(parts[1], &e); err != nil {
			return nil, relayerr.Wrap(relayerr.EventMalformed, err, "decoding auth event")
		}
		return &AuthEnvelope{Event: &e}, nil

	default:
		return nil, relayerr.New(relayerr.ProtocolParse, "unknown frame label %q", label)
	}
}

// EncodeEvent renders `["EVENT", sub_id, e]`.
func EncodeEvent(subID string, e *Event) ([]byte, error) {
	return json.Marshal([3]any{LabelEvent, subID, e})
}

// EncodeEOSE renders `["EOSE", sub_id]`.
func EncodeEOSE(subID string) ([]byte, error) {
	return json.Marshal([2]any{LabelEOSE, subID})
}

// EncodeNotice renders `["NOTICE", msg]`.
func EncodeNotice(msg string) ([]byte, error) {
	return json.Marshal([2]any{LabelNotice, msg})
}

// EncodeOK renders `["OK", event_id, accepted, reason]`.
func EncodeOK(eventID string, accepted bool, reason string) ([]byte, error) {
	return json.Marshal([4]any{LabelOK, eventID, accepted, reason})
}

// EncodeAuthChallenge renders `["AUTH", challenge_nonce]`.
func EncodeAuthChallenge(nonce string) ([]byte, error) {
	return json.Marshal([2]any{LabelAuth, nonce})
}
