package market

import (
	"sort"
	"strconv"
	"strings"
)

// Server mod sets and bundle mod sets are persisted as comma-joined integer
// id lists. These helpers are the only place that format is parsed or built.

// ParseModList decodes a comma-joined id list. Blank and malformed entries
// are skipped rather than failing the whole list.
func ParseModList(s string) []int64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// JoinModList renders ids as the persisted comma-joined form, sorted.
func JoinModList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var b strings.Builder
	for i, id := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}
