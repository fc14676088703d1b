package store

import (
	"fmt"

	"github.com/seolytics/ranktrack/internal/model"
)

// parsePeriod parses a "YYYY-MM" period key into its sortable integer form.
func parsePeriod(s string) (int, error) {
	var year, month int
	if _, err := fmt.Sscanf(s, "%d-%d", &year, &month); err != nil {
		return 0, model.NewValidationError("period", fmt.Sprintf("%q is not YYYY-MM", s))
	}
	if month < 1 || month > 12 || year < 1 {
		return 0, model.NewValidationError("period", fmt.Sprintf("%q is out of range", s))
	}
	return periodKey(month, year), nil
}

// periodBounds resolves a filter's From/To keys to integer bounds.
// Zero means unbounded on that side.
func periodBounds(f BucketFilter) (from, to int, err error) {
	if f.From != "" {
		if from, err = parsePeriod(f.From); err != nil {
			return 0, 0, err
		}
	}
	if f.To != "" {
		if to, err = parsePeriod(f.To); err != nil {
			return 0, 0, err
		}
	}
	if from > 0 && to > 0 && from > to {
		return 0, 0, model.NewValidationError("period", fmt.Sprintf("range %s..%s is inverted", f.From, f.To))
	}
	return from, to, nil
}
