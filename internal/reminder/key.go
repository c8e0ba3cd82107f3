package reminder

import (
	"fmt"
	"time"
)

// Key identifies one logical notification. Day-scoped kinds leave Window at zero;
// windowed kinds carry the unix second the window starts at.
type Key struct {
	ItemType    ItemType
	ItemID      int64
	Slot        string
	Kind        Kind
	RecipientID int64
	Day         string
	Window      int64
}

// WindowStart returns the window start, or the unix epoch for day-scoped keys.
func (k Key) WindowStart() time.Time {
	return time.Unix(k.Window, 0).UTC()
}

func (k Key) String() string {
	s := fmt.Sprintf("%s:%d", k.ItemType, k.ItemID)
	if k.Slot != "" {
		s += "@" + k.Slot
	}
	s += fmt.Sprintf(":%s:u%d:%s", k.Kind, k.RecipientID, k.Day)
	if k.Window != 0 {
		s += fmt.Sprintf(":w%d", k.Window)
	}
	return s
}

// History answers whether a key was already recorded.
type History interface {
	Has(Key) bool
}

// KeySet is an in-memory History.
type KeySet map[Key]struct{}

func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s KeySet) Add(k Key) {
	s[k] = struct{}{}
}

func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}
