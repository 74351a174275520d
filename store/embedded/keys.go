package embedded

import "encoding/binary"

// Key layout, all big-endian fixed-width fields concatenated so that a
// badger range scan never needs to decode the event body to test a filter
// constraint (grounded on the teacher's database/get-indexes-from-filter.go,
// simplified from its per-field type zoo into one composite-key
// convention — see DESIGN.md).
const (
	prefixEvent  = "ev"
	prefixID     = "id"
	prefixTime   = "ca"
	prefixAuthor = "pk"
	prefixDeleg  = "dg"
	prefixKind   = "kd"
	prefixTag    = "tg"
	prefixRepl   = "rk"
	prefixVerify = "uv"
	prefixMeta   = "mt"
)

func be64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func be16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func eventKey(serial uint64) []byte {
	return append([]byte(prefixEvent), be64(serial)...)
}

func idKey(id []byte) []byte {
	return append([]byte(prefixID), id...)
}

func timeKey(createdAt int64, serial uint64) []byte {
	k := append([]byte(prefixTime), be64(uint64(createdAt))...)
	return append(k, be64(serial)...)
}

func timeRangeStart(createdAt int64) []byte {
	return append([]byte(prefixTime), be64(uint64(createdAt))...)
}

func authorKey(pubkey []byte, createdAt int64, serial uint64) []byte {
	k := append([]byte(prefixAuthor), pubkey...)
	k = append(k, be64(uint64(createdAt))...)
	return append(k, be64(serial)...)
}

func authorPrefix(pubkeyPrefix []byte) []byte {
	return append([]byte(prefixAuthor), pubkeyPrefix...)
}

func delegateKey(delegatedBy []byte, createdAt int64, serial uint64) []byte {
	k := append([]byte(prefixDeleg), delegatedBy...)
	k = append(k, be64(uint64(createdAt))...)
	return append(k, be64(serial)...)
}

func delegatePrefix(pubkeyPrefix []byte) []byte {
	return append([]byte(prefixDeleg), pubkeyPrefix...)
}

func kindKey(kind uint16, createdAt int64, serial uint64) []byte {
	k := append([]byte(prefixKind), be16(kind)...)
	k = append(k, be64(uint64(createdAt))...)
	return append(k, be64(serial)...)
}

func kindPrefix(kind uint16) []byte {
	return append([]byte(prefixKind), be16(kind)...)
}

func tagKey(letter byte, value []byte, createdAt int64, serial uint64) []byte {
	k := append([]byte(prefixTag), letter)
	k = append(k, be16(uint16(len(value)))...)
	k = append(k, value...)
	k = append(k, be64(uint64(createdAt))...)
	return append(k, be64(serial)...)
}

func tagPrefix(letter byte, value []byte) []byte {
	k := append([]byte(prefixTag), letter)
	k = append(k, be16(uint16(len(value)))...)
	return append(k, value...)
}

func replaceableKey(kind uint16, pubkey []byte) []byte {
	k := append([]byte(prefixRepl), be16(kind)...)
	return append(k, pubkey...)
}

func verifyKey(pubkey []byte) []byte {
	return append([]byte(prefixVerify), pubkey...)
}
