// Package timeframe handles the calendar side of reporting: inclusive day
// ranges, time buckets and their SQLite expressions, dense bucket sequences,
// the rollup/fact split and previous-period derivation.
package timeframe

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of every date in a request.
const DateLayout = "2006-01-02"

// maxBuckets bounds dense sequences so a wide hourly range cannot explode.
const maxBuckets = 5000

type BucketSize string

const (
	BucketSizeHour  BucketSize = "hour"
	BucketSizeDay   BucketSize = "day"
	BucketSizeWeek  BucketSize = "week"
	BucketSizeMonth BucketSize = "month"
)

// DateRange is an inclusive range of calendar days. From and To are always
// midnight UTC.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange truncates both ends to their UTC day and validates order.
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: truncateToDay(from), To: truncateToDay(to)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD strings into a range.
func ParseDateRange(from, to string) (DateRange, error) {
	fromDate, err := time.ParseInLocation(DateLayout, from, time.UTC)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", from)
	}
	toDate, err := time.ParseInLocation(DateLayout, to, time.UTC)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", to)
	}
	return NewDateRange(fromDate, toDate)
}

func (r DateRange) Validate() error {
	if r.From.After(r.To) {
		return fmt.Errorf("date_from %s is after date_to %s", r.From.Format(DateLayout), r.To.Format(DateLayout))
	}
	return nil
}

// Days returns the number of calendar days covered, both ends included.
func (r DateRange) Days() int {
	return int(r.To.Sub(r.From).Hours()/24) + 1
}

// Start is the first instant inside the range.
func (r DateRange) Start() time.Time {
	return r.From
}

// End is the first instant after the range (exclusive bound).
func (r DateRange) End() time.Time {
	return r.To.AddDate(0, 0, 1)
}

func (r DateRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// SQLiteExpression returns the expression bucketing column into this size.
// The produced strings match Key.
func (b BucketSize) SQLiteExpression(column string) (string, error) {
	switch b {
	case BucketSizeHour:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H', %s)", column), nil
	case BucketSizeDay:
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column), nil
	case BucketSizeWeek:
		// Monday of the ISO week
		return fmt.Sprintf("date(%s, 'start of day', '-' || ((strftime('%%w', %s) + 6) %% 7) || ' days')", column, column), nil
	case BucketSizeMonth:
		return fmt.Sprintf("strftime('%%Y-%%m', %s)", column), nil
	default:
		return "", fmt.Errorf("unsupported bucket size: %v", b)
	}
}

// Key formats t the same way SQLiteExpression does.
func (b BucketSize) Key(t time.Time) string {
	t = truncateToBucket(t, b)
	switch b {
	case BucketSizeHour:
		return t.Format("2006-01-02 15")
	case BucketSizeMonth:
		return t.Format("2006-01")
	default:
		return t.Format(DateLayout)
	}
}

// ParseKey validates a bucket key as produced by Key.
func (b BucketSize) ParseKey(key string) (time.Time, error) {
	var layout string
	switch b {
	case BucketSizeHour:
		layout = "2006-01-02 15"
	case BucketSizeMonth:
		layout = "2006-01"
	case BucketSizeDay, BucketSizeWeek:
		layout = DateLayout
	default:
		return time.Time{}, fmt.Errorf("unsupported bucket size: %v", b)
	}
	t, err := time.ParseInLocation(layout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s value %q", b, key)
	}
	return t, nil
}

func (b BucketSize) userFormat() string {
	switch b {
	case BucketSizeHour:
		return "2006-01-02T15:00:00Z"
	case BucketSizeMonth:
		return "Jan 2006"
	default:
		return DateLayout
	}
}

// Bucket is one point of a dense sequence.
type Bucket struct {
	Key   string
	Label string
	Start time.Time
}

// Buckets returns every bucket touching the range, in order. Weekly and
// monthly sequences start at the bucket containing From, so the first bucket
// may begin before the range does.
func (r DateRange) Buckets(b BucketSize) ([]Bucket, error) {
	if _, err := b.SQLiteExpression("t"); err != nil {
		return nil, err
	}

	buckets := []Bucket{}
	end := r.End()
	for current := truncateToBucket(r.From, b); current.Before(end); current = next(current, b) {
		if len(buckets) >= maxBuckets {
			return nil, fmt.Errorf("range %s has more than %d %s buckets", r, maxBuckets, b)
		}
		buckets = append(buckets, Bucket{
			Key:   b.Key(current),
			Label: current.Format(b.userFormat()),
			Start: current,
		})
	}
	return buckets, nil
}

func next(t time.Time, b BucketSize) time.Time {
	switch b {
	case BucketSizeHour:
		return t.Add(time.Hour)
	case BucketSizeWeek:
		return t.AddDate(0, 0, 7)
	case BucketSizeMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

func truncateToDay(t time.Time) time.Time {
	utc := t.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}

func truncateToBucket(t time.Time, bucketSize BucketSize) time.Time {
	utc := t.UTC()
	year, month, day := utc.Year(), utc.Month(), utc.Day()

	switch bucketSize {
	case BucketSizeMonth:
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	case BucketSizeWeek:
		weekday := int(utc.Weekday())
		if weekday == 0 { // Sunday
			weekday = 7
		}
		return time.Date(year, month, day-(weekday-1), 0, 0, 0, 0, time.UTC)
	case BucketSizeDay:
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	case BucketSizeHour:
		return time.Date(year, month, day, utc.Hour(), 0, 0, 0, time.UTC)
	default:
		return utc
	}
}
