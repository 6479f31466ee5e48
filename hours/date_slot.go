package hours

import (
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"

	// SlotsPerDay is the number of scheduling slots in one day.
	SlotsPerDay = 48

	// SlotDuration is the length of one scheduling slot.
	SlotDuration = 30 * time.Minute

	// SlotHours is the slot length expressed in hours, used for kW to kWh conversions.
	SlotHours = 0.5
)

var guiLocation *time.Location = time.UTC

// SetGuiTimezone sets the timezone used when presenting slot times to users.
// Storage and scheduling stay in UTC.
func SetGuiTimezone(timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	guiLocation = loc
	return nil
}

// DateSlot identifies one half-hour scheduling slot of a UTC day.
// Slot n covers [n*30min, (n+1)*30min).
type DateSlot struct {
	Date string
	Slot uint8
}

func (ds DateSlot) String() string {
	return fmt.Sprintf("%s #%02d", ds.Date, ds.Slot)
}

func (ds DateSlot) IsoString() string {
	return ds.Time().Format(time.RFC3339)
}

// LocalString renders the slot start in the configured GUI timezone.
func (ds DateSlot) LocalString() string {
	return ds.Time().In(guiLocation).Format("2006-01-02 15:04")
}

// Time returns the UTC start time of the slot.
func (ds DateSlot) Time() time.Time {
	t, err := time.ParseInLocation(dateLayout, ds.Date, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t.Add(time.Duration(ds.Slot) * SlotDuration)
}

func (ds DateSlot) Add(slots int) DateSlot {
	t := ds.Time()
	if t.IsZero() {
		return ds
	}
	return FromTime(t.Add(time.Duration(slots) * SlotDuration))
}

func (ds DateSlot) Sub(slots int) DateSlot {
	return ds.Add(-slots)
}

func (ds DateSlot) Compare(other DateSlot) int {
	if ds == other {
		return 0
	}
	if ds.Date < other.Date {
		return -1
	}
	if ds.Date > other.Date {
		return 1
	}
	if ds.Slot < other.Slot {
		return -1
	}
	return 1
}

func (ds DateSlot) IsZero() bool {
	return ds.Date == "" && ds.Slot == 0
}

// FromTime truncates a time to its enclosing half-hour slot.
func FromTime(t time.Time) DateSlot {
	if t.IsZero() {
		return DateSlot{}
	}
	t = t.UTC()
	return DateSlot{
		Date: t.Format(dateLayout),
		Slot: uint8(t.Hour()*2 + t.Minute()/30),
	}
}

func FromNow() DateSlot {
	return FromTime(time.Now())
}

func FromMidnight() DateSlot {
	return DateSlot{Date: time.Now().UTC().Format(dateLayout), Slot: 0}
}
