package reminder

import (
	"sort"
	"time"
)

// Skipped records an item that could not be evaluated this tick.
type Skipped struct {
	ItemType ItemType
	ItemID   int64
	Slot     string
	Err      error
}

// Result is the outcome of evaluating a batch of items.
type Result struct {
	Reminders []Reminder
	Skipped   []Skipped
}

// Evaluate runs every item against now in a stable (id, slot) order. An item
// that fails is reported in Skipped and does not stop the batch. Keys emitted
// earlier in the batch are not emitted twice.
func Evaluate(now time.Time, cfg Config, items []Item, history History) Result {
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ID() != ordered[j].ID() {
			return ordered[i].ID() < ordered[j].ID()
		}
		return ordered[i].Slot() < ordered[j].Slot()
	})

	seen := NewKeySet()
	combined := layered{history, seen}

	var res Result
	for _, item := range ordered {
		reminders, err := item.Evaluate(now, cfg, combined)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{
				ItemType: item.Type(),
				ItemID:   item.ID(),
				Slot:     item.Slot(),
				Err:      err,
			})
			continue
		}
		for _, r := range reminders {
			if seen.Has(r.Key) {
				continue
			}
			seen.Add(r.Key)
			res.Reminders = append(res.Reminders, r)
		}
	}
	return res
}

type layered []History

func (l layered) Has(k Key) bool {
	for _, h := range l {
		if h != nil && h.Has(k) {
			return true
		}
	}
	return false
}
