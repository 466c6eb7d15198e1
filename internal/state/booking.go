package state

import (
	"time"

	"doorstepauto/storefront/internal/domain"
)

// slotTimes are the doorstep visit windows offered each day.
var slotTimes = []string{"09:00", "11:00", "13:00", "15:00", "17:00"}

// ValidSlot reports whether a requested booking slot is well-formed: an
// ISO date plus one of the offered visit windows.
func ValidSlot(slot domain.BookingSlot) bool {
	if _, err := time.Parse("2006-01-02", slot.Date); err != nil {
		return false
	}
	for _, t := range slotTimes {
		if t == slot.Time {
			return true
		}
	}
	return false
}

// AvailableSlots lists bookable (date, time) windows starting tomorrow.
// Same-day booking is not offered; crews are routed the evening before.
func AvailableSlots(from time.Time, days int) []domain.BookingSlot {
	if days < 1 {
		days = 1
	}
	slots := make([]domain.BookingSlot, 0, days*len(slotTimes))
	day := from.AddDate(0, 0, 1)
	for i := 0; i < days; i++ {
		date := day.AddDate(0, 0, i).Format("2006-01-02")
		for _, t := range slotTimes {
			slots = append(slots, domain.BookingSlot{Date: date, Time: t})
		}
	}
	return slots
}
