package timeframe

import "fmt"

// PreviousPolicy decides which window a comparison uses when the caller does
// not send one.
type PreviousPolicy string

const (
	// PreviousPolicyPreceding picks the window of equal length that ends the
	// day before the current range starts.
	PreviousPolicyPreceding PreviousPolicy = "preceding"
	// PreviousPolicyWeekday picks a window of equal length shifted back by
	// whole weeks, so every day pairs with the same weekday.
	PreviousPolicyWeekday PreviousPolicy = "weekday"
)

func ParsePreviousPolicy(s string) (PreviousPolicy, error) {
	switch PreviousPolicy(s) {
	case PreviousPolicyPreceding, PreviousPolicyWeekday:
		return PreviousPolicy(s), nil
	case "":
		return PreviousPolicyPreceding, nil
	default:
		return "", fmt.Errorf("unknown comparison policy: %s", s)
	}
}

// Previous derives the comparison window for r.
func (p PreviousPolicy) Previous(r DateRange) DateRange {
	days := r.Days()
	shift := days
	if p == PreviousPolicyWeekday {
		shift = ((days + 6) / 7) * 7
	}
	return DateRange{
		From: r.From.AddDate(0, 0, -shift),
		To:   r.To.AddDate(0, 0, -shift),
	}
}
