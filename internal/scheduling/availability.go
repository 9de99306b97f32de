package scheduling

import (
	"fmt"
	"sort"
	"time"

	"github.com/atendeai/clinic-assistant/internal/knowledge"
)

// slotsForDay expands one working-hours window into a 30-minute grid, then
// removes anything overlapping a booked appointment.
func slotsForDay(doctor Doctor, day time.Time, hours knowledge.WorkingHours, durationMinutes int, booked []Appointment, now time.Time) []Slot {
	start, err := atClock(day, hours.Start)
	if err != nil {
		return nil
	}
	end, err := atClock(day, hours.End)
	if err != nil {
		return nil
	}

	duration := time.Duration(durationMinutes) * time.Minute
	var out []Slot
	for t := start; !t.Add(duration).After(end); t = t.Add(duration) {
		if !t.After(now) {
			continue
		}
		if overlapsAny(t, t.Add(duration), booked) {
			continue
		}
		out = append(out, Slot{
			DoctorID:   doctor.ID,
			DoctorName: doctor.Name,
			Start:      t,
			End:        t.Add(duration),
		})
	}
	return out
}

func overlapsAny(start, end time.Time, booked []Appointment) bool {
	for _, a := range booked {
		if start.Before(a.EndTime) && a.ScheduledAt.Before(end) {
			return true
		}
	}
	return false
}

func atClock(day time.Time, clock string) (time.Time, error) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return time.Time{}, fmt.Errorf("scheduling: bad clock %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

// sortSlots orders slots soonest first, doctors alphabetically on ties, so
// the flow handler can present "up to 3 soonest options" deterministically.
func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Start.Equal(slots[j].Start) {
			return slots[i].DoctorName < slots[j].DoctorName
		}
		return slots[i].Start.Before(slots[j].Start)
	})
}
