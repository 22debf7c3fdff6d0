package pipeline

import (
	"sort"
	"time"
)

// Tier rechecks galleries younger than MaxAgeDays every EveryDays.
type Tier struct {
	MaxAgeDays int
	EveryDays  int
}

// Cadence maps a gallery's age to how often it is rechecked.
type Cadence struct {
	Tiers   []Tier
	Default int
}

// DefaultCadence rechecks daily under 2 days, every 3 days under 7,
// weekly under 14 and every 14 days after that.
func DefaultCadence() Cadence {
	return Cadence{
		Tiers:   []Tier{{MaxAgeDays: 2, EveryDays: 1}, {MaxAgeDays: 7, EveryDays: 3}, {MaxAgeDays: 14, EveryDays: 7}},
		Default: 14,
	}
}

// Every returns the recheck period for a gallery days calendar days old.
func (c Cadence) Every(days int) int {
	tiers := append([]Tier(nil), c.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxAgeDays < tiers[j].MaxAgeDays })
	for _, t := range tiers {
		if days < t.MaxAgeDays && t.EveryDays > 0 {
			return t.EveryDays
		}
	}
	if c.Default <= 0 {
		return 1
	}
	return c.Default
}

// Due reports whether a gallery published at published is rechecked on now's day.
// Both age and day of month are taken from UTC dates.
func (c Cadence) Due(published, now time.Time) bool {
	return now.UTC().Day()%c.Every(calendarDays(published, now)) == 0
}

// calendarDays counts UTC date boundaries between from and to.
func calendarDays(from, to time.Time) int {
	f, t := from.UTC(), to.UTC()
	start := time.Date(f.Year(), f.Month(), f.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}
