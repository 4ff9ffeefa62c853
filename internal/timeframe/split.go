package timeframe

import "time"

// Horizon returns the first day still served by raw facts when facts are
// kept for retentionDays. ok is false when retention is unlimited.
func Horizon(now time.Time, retentionDays int) (horizon time.Time, ok bool) {
	if retentionDays <= 0 {
		return time.Time{}, false
	}
	return truncateToDay(now).AddDate(0, 0, -retentionDays), true
}

// Split cuts r at horizon. Days strictly before horizon go to the rollup
// range, days on or after it go to the fact range, so the horizon day is only
// ever counted from facts. Either side is nil when empty.
func Split(r DateRange, horizon time.Time) (fact *DateRange, rollup *DateRange) {
	horizon = truncateToDay(horizon)

	if !r.From.Before(horizon) {
		whole := r
		return &whole, nil
	}
	if r.To.Before(horizon) {
		whole := r
		return nil, &whole
	}

	rollup = &DateRange{From: r.From, To: horizon.AddDate(0, 0, -1)}
	fact = &DateRange{From: horizon, To: r.To}
	return fact, rollup
}
