package markethours

import "time"

// NSE trading holidays, keyed by IST date. Dates marked tentative follow
// the exchange's provisional calendar.
var holidays = map[[3]int]string{
	{2026, 1, 26}:  "Republic Day",
	{2026, 2, 17}:  "Mahashivratri",
	{2026, 3, 3}:   "Holi",
	{2026, 3, 31}:  "Id-ul-Fitr",
	{2026, 4, 2}:   "Ram Navami",
	{2026, 4, 6}:   "Mahavir Jayanti",
	{2026, 4, 10}:  "Good Friday",
	{2026, 4, 14}:  "Dr. Ambedkar Jayanti",
	{2026, 5, 1}:   "Maharashtra Day",
	{2026, 6, 7}:   "Bakrid",
	{2026, 7, 6}:   "Muharram",
	{2026, 8, 15}:  "Independence Day",
	{2026, 8, 16}:  "Janmashtami",
	{2026, 9, 5}:   "Milad-un-Nabi",
	{2026, 10, 2}:  "Mahatma Gandhi Jayanti",
	{2026, 10, 20}: "Dussehra",
	{2026, 10, 21}: "Dussehra",
	{2026, 11, 5}:  "Diwali Laxmi Pujan",
	{2026, 11, 6}:  "Diwali Balipratipada",
	{2026, 11, 7}:  "Bhai Dooj",
	{2026, 11, 19}: "Guru Nanak Jayanti",
	{2026, 12, 25}: "Christmas",
}

// IsHoliday returns true if the date (in IST) is an NSE holiday.
func IsHoliday(t time.Time) bool {
	_, ok := Holiday(t)
	return ok
}

// Holiday returns the name of the holiday on t's IST date, if any.
func Holiday(t time.Time) (string, bool) {
	ist := t.In(IST)
	name, ok := holidays[[3]int{ist.Year(), int(ist.Month()), ist.Day()}]
	return name, ok
}
