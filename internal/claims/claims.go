// Package claims encodes the per-user multiset of claimed mod slots.
//
// The persisted form is a single delimited string ("12[2],40[1]") on the user
// row. Everything outside this package works with the decoded Multiset; the
// string is purely a serialization boundary.
package claims

import (
	"sort"
	"strconv"
	"strings"
)

// Multiset maps a mod id to the number of servers (or storage slots)
// currently claiming it. A key is present only with a count >= 1.
type Multiset map[int64]int

// Decode parses the delimited form. Malformed tokens are skipped so that one
// corrupt entry cannot block the rest of the set.
func Decode(s string) Multiset {
	m := Multiset{}
	if strings.TrimSpace(s) == "" {
		return m
	}
	for _, entry := range strings.Split(s, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "[", 2)
		if len(parts) != 2 {
			continue
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSuffix(parts[1], "]"))
		if err != nil || count <= 0 {
			continue
		}
		m[id] = count
	}
	return m
}

// Encode renders "id[count]" tokens joined by commas, keys sorted for a
// stable output. An empty multiset encodes to the empty string.
func Encode(m Multiset) string {
	if len(m) == 0 {
		return ""
	}
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(m[id]))
		b.WriteByte(']')
	}
	return b.String()
}

// Increment adds one claim for id, inserting the key if absent.
func Increment(m Multiset, id int64) {
	m[id]++
}

// Decrement removes one claim for id. A key reaching zero is deleted, never
// stored as zero. Decrementing an absent key is a no-op: claim state may
// legitimately lag behind a late-arriving removal.
func Decrement(m Multiset, id int64) {
	count, ok := m[id]
	if !ok {
		return
	}
	if count > 1 {
		m[id] = count - 1
		return
	}
	delete(m, id)
}
