package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"
)

const (
	DateLayout    = "2006-01-02"
	MonthLayout   = "2006-01"
	TimeKeyLayout = "15:04"

	DefaultSlotGranularity = 30 * time.Minute
)

type SlotState struct {
	Available bool   `json:"available"`
	BookingID string `json:"bookingId,omitempty"`
	Occupant  string `json:"occupant,omitempty"`
}

// SlotIndex is the reservation algorithm's view of a slot grid. Storage
// layout stays behind it.
type SlotIndex interface {
	Slot(courtID, date, timeKey string) (SlotState, bool)
	SetSlot(courtID, date, timeKey string, s SlotState)
}

// SlotGrid indexes courtID -> date -> timeKey -> state.
type SlotGrid map[string]map[string]map[string]SlotState

func (g SlotGrid) Slot(courtID, date, timeKey string) (SlotState, bool) {
	days, ok := g[courtID]
	if !ok {
		return SlotState{}, false
	}
	keys, ok := days[date]
	if !ok {
		return SlotState{}, false
	}
	s, ok := keys[timeKey]
	return s, ok
}

func (g SlotGrid) SetSlot(courtID, date, timeKey string, s SlotState) {
	days, ok := g[courtID]
	if !ok {
		days = make(map[string]map[string]SlotState)
		g[courtID] = days
	}
	keys, ok := days[date]
	if !ok {
		keys = make(map[string]SlotState)
		days[date] = keys
	}
	keys[timeKey] = s
}

// Day returns the court's slots for date ordered by time key.
func (g SlotGrid) Day(courtID, date string) []DaySlot {
	keys := g[courtID][date]
	out := make([]DaySlot, 0, len(keys))
	for k, s := range keys {
		out = append(out, DaySlot{TimeKey: k, SlotState: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimeKey < out[j].TimeKey })
	return out
}

type DaySlot struct {
	TimeKey string `json:"time"`
	SlotState
}

// MonthlyAvailability is the unit of mutual exclusion for reservations: one
// document per venue and month.
type MonthlyAvailability struct {
	ID        int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	VenueID   string         `json:"venue_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_monthly_availability_venue_month,priority:1"`
	Month     string         `json:"month" gorm:"type:varchar(7);not null;uniqueIndex:ux_monthly_availability_venue_month,priority:2"`
	Version   int64          `json:"version" gorm:"not null;default:0"`
	Slots     datatypes.JSON `json:"-"`
	Grid      SlotGrid       `json:"slots" gorm:"-"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (MonthlyAvailability) TableName() string { return "monthly_availabilities" }

// Decode fills Grid from the stored Slots column.
func (m *MonthlyAvailability) Decode() error {
	m.Grid = SlotGrid{}
	if len(m.Slots) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Slots, &m.Grid); err != nil {
		return fmt.Errorf("decode slots for %s/%s: %w", m.VenueID, m.Month, err)
	}
	return nil
}

// Encode serialises Grid into Slots.
func (m *MonthlyAvailability) Encode() error {
	raw, err := json.Marshal(m.Grid)
	if err != nil {
		return fmt.Errorf("encode slots for %s/%s: %w", m.VenueID, m.Month, err)
	}
	m.Slots = datatypes.JSON(raw)
	return nil
}

func MonthOf(date string) (string, error) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return d.Format(MonthLayout), nil
}

// CoveredSlots returns the local date and the time keys of every slot that
// intersects [start, end) at the given granularity. The range must fall on a
// single local day.
func CoveredSlots(start, end time.Time, step time.Duration, loc *time.Location) (string, []string, error) {
	if step <= 0 {
		return "", nil, fmt.Errorf("slot granularity must be positive")
	}
	if !end.After(start) {
		return "", nil, fmt.Errorf("end %s must be after start %s", end, start)
	}
	if loc == nil {
		loc = time.UTC
	}
	ls, le := start.In(loc), end.In(loc)
	midnight := time.Date(ls.Year(), ls.Month(), ls.Day(), 0, 0, 0, 0, loc)
	if le.After(midnight.AddDate(0, 0, 1)) {
		return "", nil, fmt.Errorf("range %s-%s spans more than one day", ls.Format(time.RFC3339), le.Format(time.RFC3339))
	}

	offset := ls.Sub(midnight)
	cursor := midnight.Add(offset - offset%step)
	var keys []string
	for cursor.Before(le) {
		keys = append(keys, cursor.Format(TimeKeyLayout))
		cursor = cursor.Add(step)
	}
	return ls.Format(DateLayout), keys, nil
}

// GenerateMonth builds an all-available grid for the given courts between
// open and close (local clock times, "HH:MM") on every day of month.
func GenerateMonth(month string, courts []string, open, close string, step time.Duration) (SlotGrid, error) {
	first, err := time.Parse(MonthLayout, month)
	if err != nil {
		return nil, fmt.Errorf("invalid month %q: %w", month, err)
	}
	o, err := time.Parse(TimeKeyLayout, open)
	if err != nil {
		return nil, fmt.Errorf("invalid open time %q: %w", open, err)
	}
	c, err := time.Parse(TimeKeyLayout, close)
	if err != nil {
		return nil, fmt.Errorf("invalid close time %q: %w", close, err)
	}
	if !c.After(o) || step <= 0 {
		return nil, fmt.Errorf("invalid opening hours %s-%s", open, close)
	}

	grid := SlotGrid{}
	for day := first; day.Month() == first.Month(); day = day.AddDate(0, 0, 1) {
		date := day.Format(DateLayout)
		for _, court := range courts {
			for t := o; t.Before(c); t = t.Add(step) {
				grid.SetSlot(court, date, t.Format(TimeKeyLayout), SlotState{Available: true})
			}
		}
	}
	return grid, nil
}
