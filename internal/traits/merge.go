package traits

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ChangeRecord is a single trait change applied by Merge.
type ChangeRecord struct {
	Trait     string   `json:"trait"`
	OldValue  *float64 `json:"old_value,omitempty"`
	NewValue  float64  `json:"new_value"`
	Timestamp int64    `json:"timestamp"`
}

// MergeResult holds the merged profile plus what changed and what was rejected.
type MergeResult struct {
	Merged    map[string]float64 `json:"merged"`
	Changes   []ChangeRecord     `json:"changes"`
	Conflicts []string           `json:"conflicts"`
}

// ValidateName accepts non-blank trait names shorter than 64 bytes.
func ValidateName(s string) error {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 63 {
		return fmt.Errorf("invalid trait name %q", s)
	}
	return nil
}

// Merge folds update into existing without removing traits. Values outside
// [0, max] and invalid names are reported as conflicts and skipped. Neither
// input map is modified.
func Merge(existing, update map[string]float64, max float64) MergeResult {
	if max <= 0 {
		max = DefaultMax
	}
	merged := make(map[string]float64, len(existing)+len(update))
	for k, v := range existing {
		merged[k] = v
	}

	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := MergeResult{Merged: merged, Changes: []ChangeRecord{}, Conflicts: []string{}}
	now := time.Now().UTC().Unix()
	for _, raw := range keys {
		v := update[raw]
		name := strings.ToLower(strings.TrimSpace(raw))
		if err := ValidateName(name); err != nil {
			res.Conflicts = append(res.Conflicts, fmt.Sprintf("%s:invalid_name", raw))
			continue
		}
		if v < 0 || v > max {
			res.Conflicts = append(res.Conflicts, fmt.Sprintf("%s:out_of_range:%v", name, v))
			continue
		}

		old, had := merged[name]
		if had && old == v {
			continue
		}
		rec := ChangeRecord{Trait: name, NewValue: v, Timestamp: now}
		if had {
			o := old
			rec.OldValue = &o
		}
		merged[name] = v
		res.Changes = append(res.Changes, rec)
	}

	return res
}

// Default returns the initial profile for a new user: every name at half of max.
func Default(p Policy) map[string]float64 {
	names := p.Names
	if len(names) == 0 {
		names = DefaultNames
	}
	max := p.Max
	if max <= 0 {
		max = DefaultMax
	}
	out := make(map[string]float64, len(names))
	for _, n := range names {
		out[n] = max / 2
	}
	return out
}
