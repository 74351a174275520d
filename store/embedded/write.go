package embedded

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"relay.dev/internal/chk"
	"relay.dev/internal/lol"
	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
)

func decodeHex(s string) ([]byte, error) {
	b := make([]byte, len(s)/2)
	for i := range b {
		var hi, lo byte
		if hi = fromHexNibble(s[i*2]); hi == 0xff {
			return nil, errors.New("bad hex")
		}
		if lo = fromHexNibble(s[i*2+1]); lo == 0xff {
			return nil, errors.New("bad hex")
		}
		b[i] = hi<<4 | lo
	}
	return b, nil
}

func fromHexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return 0xff
	}
}

func isLowerHexEven(s string) bool {
	if len(s)%2 != 0 || len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// tagIndexValue returns the byte form a tag value is indexed under:
// hex-decoded when it parses as even-length lowercase hex, else the raw
// UTF-8 bytes (spec §3, §4.5).
func tagIndexValue(v string) []byte {
	if isLowerHexEven(v) {
		if b, err := decodeHex(v); err == nil {
			return b
		}
	}
	return []byte(v)
}

func replValue(serial uint64, createdAt int64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], serial)
	binary.BigEndian.PutUint64(b[8:], uint64(createdAt))
	return b
}

func parseReplValue(b []byte) (serial uint64, createdAt int64) {
	return binary.BigEndian.Uint64(b[:8]), int64(binary.BigEndian.Uint64(b[8:]))
}

// WriteEvent implements spec §4.3 steps 4-7: dedup insert, tag indexing,
// replacement, and deletion, inside a single badger transaction so every
// reader sees either the whole effect or none of it.
func (d *D) WriteEvent(ctx context.Context, e *nostr.Event) (added int, serial uint64, err error) {
	idBytes, err := decodeHex(e.ID)
	if err != nil {
		return 0, 0, relayerr.New(relayerr.EventMalformed, "bad event id hex")
	}
	pkBytes, err := decodeHex(e.Pubkey)
	if err != nil {
		return 0, 0, relayerr.New(relayerr.EventMalformed, "bad pubkey hex")
	}

	// Step 4: dedup check outside the write transaction first, cheaply.
	var dup bool
	err = d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(idKey(idBytes))
		if err == nil {
			dup = true
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return nil
	})
	if chk.E(err) {
		return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "dedup lookup")
	}
	if dup {
		return 0, 0, nil
	}

	serial, err = d.nextSerial()
	if chk.E(err) {
		return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "allocating serial")
	}
	hide := false

	err = d.db.Update(func(txn *badger.Txn) error {
		// Step 7 (incoming side): if a prior deletion from this author
		// already references this id, hide on arrival and drop the
		// broadcast (spec §4.3 step 7).
		if !e.Kind.IsDeletion() {
			refs, qerr := scanTagPrefix(txn, tagPrefix('e', idBytes))
			if qerr != nil {
				return qerr
			}
			for _, s := range refs {
				target, gerr := getEventBySerial(txn, s)
				if gerr != nil {
					continue
				}
				if target.Kind.IsDeletion() && target.Pubkey == e.Pubkey {
					hide = true
					break
				}
			}
		}

		sEv := toStored(e)
		sEv.Hidden = hide
		blob, merr := encodeEventStruct(sEv)
		if merr != nil {
			return merr
		}
		if err := txn.Set(eventKey(serial), blob); err != nil {
			return err
		}
		if err := txn.Set(idKey(idBytes), be64(serial)); err != nil {
			return err
		}
		if err := txn.Set(timeKey(e.CreatedAt, serial), be64(serial)); err != nil {
			return err
		}
		if err := txn.Set(authorKey(pkBytes, e.CreatedAt, serial), be64(serial)); err != nil {
			return err
		}
		if e.DelegatedBy != "" {
			if dg, derr := decodeHex(e.DelegatedBy); derr == nil {
				if err := txn.Set(delegateKey(dg, e.CreatedAt, serial), be64(serial)); err != nil {
					return err
				}
			}
		}
		if err := txn.Set(kindKey(uint16(e.Kind), e.CreatedAt, serial), be64(serial)); err != nil {
			return err
		}

		// Step 5: tag indexing. Every (event_id, name, value) triple is
		// indexed, resolving the uniqueness open question in spec §9 in
		// favor of the protocol-correct behavior rather than the source's
		// (event_id, name) constraint.
		for _, t := range e.Tags {
			if !t.Indexable() {
				continue
			}
			val := tagIndexValue(t.Value())
			if err := txn.Set(tagKey(t.Name()[0], val, e.CreatedAt, serial), be64(serial)); err != nil {
				return err
			}
		}

		// Step 6: replacement.
		if !hide && e.Kind.IsReplaceable() {
			rk := replaceableKey(uint16(e.Kind), pkBytes)
			item, gerr := txn.Get(rk)
			if gerr == nil {
				var v []byte
				if v, gerr = item.ValueCopy(nil); gerr != nil {
					return gerr
				}
				oldSerial, oldCreatedAt := parseReplValue(v)
				if e.CreatedAt >= oldCreatedAt {
					if herr := hideSerial(txn, oldSerial); herr != nil {
						return herr
					}
					if err := txn.Set(rk, replValue(serial, e.CreatedAt)); err != nil {
						return err
					}
				} else {
					// incoming is older than the current winner: hide it
					// instead of displacing the pointer.
					hide = true
					sEv.Hidden = true
					blob, merr = encodeEventStruct(sEv)
					if merr != nil {
						return merr
					}
					if err := txn.Set(eventKey(serial), blob); err != nil {
						return err
					}
				}
			} else if errors.Is(gerr, badger.ErrKeyNotFound) {
				if err := txn.Set(rk, replValue(serial, e.CreatedAt)); err != nil {
					return err
				}
			} else {
				return gerr
			}
		}

		// Step 7: deletion (outgoing side).
		if e.Kind.IsDeletion() {
			for _, t := range e.Tags {
				if t.Name() != "e" {
					continue
				}
				targetID, herr := decodeHex(t.Value())
				if herr != nil || len(targetID) != 32 {
					continue
				}
				item, gerr := txn.Get(idKey(targetID))
				if gerr != nil {
					continue
				}
				v, _ := item.ValueCopy(nil)
				targetSerial := binary.BigEndian.Uint64(v)
				target, gerr := getEventBySerial(txn, targetSerial)
				if gerr != nil {
					continue
				}
				if target.Kind.IsDeletion() || target.Pubkey != e.Pubkey {
					continue
				}
				if herr = hideSerial(txn, targetSerial); herr != nil {
					return herr
				}
			}
		}
		return nil
	})
	if chk.E(err) {
		return 0, 0, relayerr.Wrap(relayerr.StorageTransient, err, "writing event")
	}
	if hide {
		lol.T.F("event %s hidden on arrival (preceded by deletion or superseded)", e.ID)
		return 0, serial, nil
	}
	return 1, serial, nil
}

func hideSerial(txn *badger.Txn, serial uint64) error {
	item, err := txn.Get(eventKey(serial))
	if err != nil {
		return err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	ev, err := decodeEvent(v)
	if err != nil {
		return err
	}
	sEv := toStored(ev)
	sEv.Hidden = true
	blob, err := encodeEventStruct(sEv)
	if err != nil {
		return err
	}
	return txn.Set(eventKey(serial), blob)
}

func getEventBySerial(txn *badger.Txn, serial uint64) (*nostr.Event, error) {
	item, err := txn.Get(eventKey(serial))
	if err != nil {
		return nil, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeEvent(v)
}

// scanTagPrefix returns every serial indexed under an exact (letter, value)
// tag prefix, ignoring the trailing created_at/serial suffix.
func scanTagPrefix(txn *badger.Txn, prefix []byte) (serials []uint64, err error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		v, verr := it.Item().ValueCopy(nil)
		if verr != nil {
			return nil, verr
		}
		serials = append(serials, binary.BigEndian.Uint64(v))
	}
	return serials, nil
}
