package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"argus/core"
)

// MillisPerDay is the width of one calendar bucket
const MillisPerDay int64 = 86_400_000

// CalendarEntry is a labeled interval in Unix milliseconds. Both ends are
// inclusive.
type CalendarEntry struct {
	Start int64
	End   int64
	Label string
}

// Calendar indexes labeled time intervals by UTC day. Intervals spanning
// several days are split into one piece per covered day so a lookup only
// scans the bucket of its own day.
//
// Insert mutates and is meant for snapshots that have not been published yet.
type Calendar struct {
	days map[int64][]CalendarEntry
}

// NewCalendar builds an empty calendar
func NewCalendar() *Calendar {
	return &Calendar{days: make(map[int64][]CalendarEntry)}
}

// DayIndex returns the bucket of a Unix millisecond timestamp
func DayIndex(ms int64) int64 {
	// floor division so instants before 1970 land in the right day
	d := ms / MillisPerDay
	if ms%MillisPerDay < 0 {
		d--
	}
	return d
}

// Insert adds the interval [start, end] with label
func (c *Calendar) Insert(start, end time.Time, label string) error {
	return c.InsertMillis(start.UnixMilli(), end.UnixMilli(), label)
}

// InsertMillis adds the interval [start, end] given in Unix milliseconds
func (c *Calendar) InsertMillis(start, end int64, label string) error {
	if end < start {
		return fmt.Errorf("calendar interval %q ends before it starts", label)
	}
	if c.days == nil {
		c.days = make(map[int64][]CalendarEntry)
	}
	first, last := DayIndex(start), DayIndex(end)
	for day := first; day <= last; day++ {
		piece := CalendarEntry{Start: day * MillisPerDay, End: (day+1)*MillisPerDay - 1, Label: label}
		if day == first {
			piece.Start = start
		}
		if day == last {
			piece.End = end
		}
		// copy so a bucket shared with a published snapshot is never appended in place
		bucket := c.days[day]
		c.days[day] = append(bucket[:len(bucket):len(bucket)], piece)
	}
	return nil
}

// Lookup returns the labels of every interval containing t
func (c *Calendar) Lookup(t time.Time) ([]string, bool) {
	return c.LookupMillis(t.UnixMilli())
}

// LookupMillis is Lookup for a Unix millisecond timestamp
func (c *Calendar) LookupMillis(ms int64) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	var labels []string
	for _, e := range c.days[DayIndex(ms)] {
		if e.Start <= ms && ms <= e.End {
			labels = append(labels, e.Label)
		}
	}
	return labels, len(labels) > 0
}

// MatchValue implements Matcher. Accepted values are time.Time, Unix
// milliseconds as a number and RFC3339 strings.
func (c *Calendar) MatchValue(v interface{}) bool {
	ms, ok := millisOf(v)
	if !ok {
		return false
	}
	_, found := c.LookupMillis(ms)
	return found
}

// Len returns the number of stored day pieces
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, bucket := range c.days {
		n += len(bucket)
	}
	return n
}

// Entries returns the stored day pieces ordered by start
func (c *Calendar) Entries() []CalendarEntry {
	out := make([]CalendarEntry, 0, c.Len())
	if c == nil {
		return out
	}
	for _, bucket := range c.days {
		out = append(out, bucket...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func (c *Calendar) clone() *Calendar {
	out := NewCalendar()
	if c == nil {
		return out
	}
	for day, bucket := range c.days {
		out.days[day] = append([]CalendarEntry(nil), bucket...)
	}
	return out
}

func (c *Calendar) removeLabel(label string) {
	for day, bucket := range c.days {
		kept := bucket[:0]
		for _, e := range bucket {
			if e.Label != label {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.days, day)
		} else {
			c.days[day] = kept
		}
	}
}

// ApplyCalendar folds commands into a new Calendar. Remove deletes every
// interval carrying the entry's label.
func ApplyCalendar(old *Calendar, batch []Command[Calendar, CalendarEntry]) *Calendar {
	next := old.clone()
	for _, cmd := range batch {
		switch cmd.Op {
		case OpReplace:
			next = cmd.Snapshot.clone()
		case OpAdd:
			_ = next.InsertMillis(cmd.Entry.Start, cmd.Entry.End, cmd.Entry.Label)
		case OpRemove:
			next.removeLabel(cmd.Entry.Label)
		}
	}
	return next
}

// NewCalendarHandle creates a handle serving a Calendar
func NewCalendarHandle(kind core.DatasetKind, opts HandleOptions) *Handle[Calendar, CalendarEntry] {
	return NewHandle[Calendar, CalendarEntry](kind, NewCalendar(), ApplyCalendar, opts)
}

func millisOf(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UnixMilli(), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t.UnixMilli(), true
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
