package recurrence

import (
	"sort"
	"time"

	"github.com/ajisai/yotei/internal/model"
)

// Merge returns the persisted collection plus the virtual instances every
// recurring series generates for [windowStart, windowEnd]. Persisted tasks
// are never mutated or removed; a candidate instance is dropped when a task
// in the same series already occupies its minute. Pure: callers may rerun it
// on every window change.
func Merge(tasks []model.Task, windowStart, windowEnd time.Time) []model.Task {
	out := make([]model.Task, len(tasks))
	copy(out, tasks)

	// Earliest rule-carrying task per group is the master; later
	// rule-carriers are plain data.
	masters := make(map[string]model.Task)
	seen := make(map[string]struct{})
	for _, t := range tasks {
		if t.RecurrenceGroupID == "" {
			continue
		}
		seen[instanceKey(t.RecurrenceGroupID, t.OccursAt)] = struct{}{}
		if t.Recurrence == nil {
			continue
		}
		if m, ok := masters[t.RecurrenceGroupID]; !ok || t.OccursAt.Before(m.OccursAt) {
			masters[t.RecurrenceGroupID] = t
		}
	}

	groups := make([]string, 0, len(masters))
	for id := range masters {
		groups = append(groups, id)
	}
	sort.Strings(groups)

	for _, id := range groups {
		for _, cand := range Expand(masters[id], windowStart, windowEnd) {
			key := instanceKey(cand.RecurrenceGroupID, cand.OccursAt)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, cand)
		}
	}
	return out
}

// instanceKey is the duplicate identity: series id plus the occurrence
// instant truncated to the minute. UTC-normalized so rows loaded from
// storage and freshly generated instances compare as instants.
func instanceKey(groupID string, at time.Time) string {
	return groupID + "|" + at.Truncate(time.Minute).UTC().Format(time.RFC3339)
}
