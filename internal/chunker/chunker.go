// Package chunker splits a shop's activity window into date ranges small
// enough for one REST worker or bulk slice each.
package chunker

import (
	"context"
	"time"
)

// maxProductsPerRange is the probe threshold above which a range is split.
const maxProductsPerRange = 20000

const (
	largeShopProducts = 50000
	hugeShopProducts  = 100000
)

// Range is one [Start, End) slice of the activity window.
type Range struct {
	Start time.Time
	End   time.Time
}

// CountFunc probes how many products were created inside a candidate range.
type CountFunc func(ctx context.Context, start, end time.Time) (int, error)

// InitialStep picks the starting slice width from the shop's product count.
func InitialStep(productCount int) time.Duration {
	switch {
	case productCount > hugeShopProducts:
		return 48 * time.Hour
	case productCount > largeShopProducts:
		return 7 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

// Split covers [start, end] with ranges whose probed product count stays at
// or below the threshold, halving the step down to one day as needed.
func Split(ctx context.Context, start, end time.Time, step time.Duration, count CountFunc) ([]Range, error) {
	const day = 24 * time.Hour
	if step < day {
		step = day
	}

	var out []Range
	cursor := start
	for cursor.Before(end) {
		rangeEnd := cursor.Add(step)
		if rangeEnd.After(end) {
			rangeEnd = end
		}

		probed, err := count(ctx, cursor, rangeEnd)
		if err != nil {
			return nil, err
		}
		if probed > maxProductsPerRange && step > day {
			step = step / 2
			if step < day {
				step = day
			}
			continue
		}

		out = append(out, Range{Start: cursor, End: rangeEnd})
		cursor = rangeEnd
	}
	return out, nil
}
