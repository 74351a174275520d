package networked

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"relay.dev/internal/chk"
	"relay.dev/internal/relayerr"
	"relay.dev/nostr"
)

// QueryEvents compiles sub into one SQL SELECT per filter against the read
// pool, grounded on original_source/src/repo/postgres.rs query_from_filter:
// id/author hex prefixes become equality or range predicates, tags become
// an EXISTS subquery, and a present Limit flips ordering to DESC so only
// the most recent matches survive the cap.
func (d *D) QueryEvents(ctx context.Context, sub *nostr.Subscription, out chan<- *nostr.Event) error {
	defer close(out)
	seen := map[string]bool{}
	for _, f := range sub.Filters {
		q, args := buildFilterQuery(f)
		rows, err := d.readPool.Query(ctx, q, args...)
		if chk.E(err) {
			return relayerr.Wrap(relayerr.StorageTransient, err, "querying events")
		}
		for rows.Next() {
			if ctx.Err() != nil {
				rows.Close()
				return nil
			}
			var body []byte
			if err := rows.Scan(&body); err != nil {
				continue
			}
			var e nostr.Event
			if err := json.Unmarshal(body, &e); err != nil {
				continue
			}
			e.DeriveDelegation()
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			select {
			case out <- &e:
			case <-ctx.Done():
				rows.Close()
				return nil
			}
		}
		rows.Close()
	}
	return nil
}

func buildFilterQuery(f *nostr.ReqFilter) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}
	b.WriteString(`SELECT content FROM "event" WHERE `)
	pushAnd := false

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.HasAuthors() {
		var clauses []string
		for _, a := range f.Authors {
			kind, low, high := classifyHex(a)
			switch kind {
			case hexExact:
				clauses = append(clauses, fmt.Sprintf("(pub_key = %s OR delegated_by = %s)", arg(low), arg(low))) //nolint:staticcheck
			case hexRange:
				clauses = append(clauses, fmt.Sprintf("((pub_key > %s AND pub_key < %s) OR (delegated_by > %s AND delegated_by < %s))",
					arg(low), arg(high), arg(low), arg(high)))
			case hexLowerOnly:
				clauses = append(clauses, fmt.Sprintf("(pub_key > %s OR delegated_by > %s)", arg(low), arg(low)))
			}
		}
		if len(clauses) > 0 {
			b.WriteString("(" + strings.Join(clauses, " OR ") + ")")
			pushAnd = true
		}
	}

	if f.HasKinds() {
		if pushAnd {
			b.WriteString(" AND ")
		}
		var ks []string
		for _, k := range f.Kinds {
			ks = append(ks, arg(int64(k)))
		}
		b.WriteString("kind IN (" + strings.Join(ks, ", ") + ")")
		pushAnd = true
	}

	if f.HasIDs() {
		if pushAnd {
			b.WriteString(" AND ")
		}
		var clauses []string
		for _, idPrefix := range f.IDs {
			kind, low, high := classifyHex(idPrefix)
			switch kind {
			case hexExact:
				clauses = append(clauses, fmt.Sprintf("id = %s", arg(low)))
			case hexRange:
				clauses = append(clauses, fmt.Sprintf("(id > %s AND id < %s)", arg(low), arg(high)))
			case hexLowerOnly:
				clauses = append(clauses, fmt.Sprintf("id > %s", arg(low)))
			}
		}
		if len(clauses) > 0 {
			b.WriteString("(" + strings.Join(clauses, " OR ") + ")")
			pushAnd = true
		}
	}

	if f.HasTags() {
		if pushAnd {
			b.WriteString(" AND ")
		}
		var clauses []string
		for name, values := range f.Tags {
			if len(name) != 1 {
				continue
			}
			var valArgs []string
			for _, v := range values {
				if b2, herr := hex.DecodeString(v); herr == nil && len(v)%2 == 0 {
					valArgs = append(valArgs, arg(b2))
				} else {
					valArgs = append(valArgs, arg([]byte(v)))
				}
			}
			if len(valArgs) == 0 {
				continue
			}
			clauses = append(clauses, fmt.Sprintf(`id IN (SELECT event_id FROM tag WHERE "name" = %s AND value IN (%s))`,
				arg(name), strings.Join(valArgs, ", ")))
		}
		if len(clauses) > 0 {
			b.WriteString("(" + strings.Join(clauses, " AND ") + ")")
			pushAnd = true
		}
	}

	if f.Since != nil {
		if pushAnd {
			b.WriteString(" AND ")
		}
		b.WriteString("created_at > " + arg(time.Unix(*f.Since, 0).UTC()))
		pushAnd = true
	}
	if f.Until != nil {
		if pushAnd {
			b.WriteString(" AND ")
		}
		b.WriteString("created_at < " + arg(time.Unix(*f.Until, 0).UTC()))
		pushAnd = true
	}

	if pushAnd {
		b.WriteString(" AND hidden = false")
	} else {
		b.WriteString("hidden = false")
	}

	if f.Limit != nil {
		b.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", *f.Limit))
	} else {
		b.WriteString(" ORDER BY created_at ASC")
	}
	return b.String(), args
}

type hexRangeKind int

const (
	hexUnparseable hexRangeKind = iota
	hexExact
	hexRange
	hexLowerOnly
)

func classifyHex(prefix string) (kind hexRangeKind, low, high []byte) {
	n := len(prefix)
	if n == 0 || n > 64 {
		return hexUnparseable, nil, nil
	}
	if n == 64 {
		b, err := hex.DecodeString(prefix)
		if err != nil {
			return hexUnparseable, nil, nil
		}
		return hexExact, b, nil
	}
	if n%2 == 0 {
		b, err := hex.DecodeString(prefix)
		if err != nil {
			return hexUnparseable, nil, nil
		}
		padded := make([]byte, 32)
		copy(padded, b)
		upper := make([]byte, 32)
		copy(upper, b)
		for i := len(b) - 1; i >= 0; i-- {
			if upper[i] < 0xff {
				upper[i]++
				break
			}
		}
		return hexRange, padded, upper
	}
	b, err := hex.DecodeString(prefix + "0")
	if err != nil {
		return hexUnparseable, nil, nil
	}
	padded := make([]byte, 32)
	copy(padded, b)
	return hexLowerOnly, padded, nil
}
