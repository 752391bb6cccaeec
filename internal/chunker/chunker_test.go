package chunker

import (
	"context"
	"testing"
	"time"
)

func TestInitialStepTiers(t *testing.T) {
	t.Parallel()

	if got := InitialStep(1000); got != 365*24*time.Hour {
		t.Fatalf("small shop step = %s", got)
	}
	if got := InitialStep(60000); got != 7*24*time.Hour {
		t.Fatalf("large shop step = %s", got)
	}
	if got := InitialStep(200000); got != 48*time.Hour {
		t.Fatalf("huge shop step = %s", got)
	}
}

func TestSplitCoversWindowContiguously(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * 24 * time.Hour)
	flat := func(ctx context.Context, s, e time.Time) (int, error) { return 100, nil }

	ranges, err := Split(context.Background(), start, end, 3*24*time.Hour, flat)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if len(ranges) == 0 {
		t.Fatal("no ranges produced")
	}
	if !ranges[0].Start.Equal(start) {
		t.Fatalf("first range starts at %s", ranges[0].Start)
	}
	if !ranges[len(ranges)-1].End.Equal(end) {
		t.Fatalf("last range ends at %s", ranges[len(ranges)-1].End)
	}
	for i := 1; i < len(ranges); i++ {
		if !ranges[i].Start.Equal(ranges[i-1].End) {
			t.Fatalf("gap between range %d and %d", i-1, i)
		}
	}
}

func TestSplitHalvesDenseRanges(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(8 * 24 * time.Hour)

	// Ranges wider than two days probe over the threshold.
	count := func(ctx context.Context, s, e time.Time) (int, error) {
		if e.Sub(s) > 2*24*time.Hour {
			return maxProductsPerRange + 1, nil
		}
		return 100, nil
	}

	ranges, err := Split(context.Background(), start, end, 8*24*time.Hour, count)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	for _, r := range ranges {
		if r.End.Sub(r.Start) > 2*24*time.Hour {
			t.Fatalf("range %s..%s wider than the probe allowed", r.Start, r.End)
		}
	}
}

func TestSplitFloorsAtOneDay(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * 24 * time.Hour)

	// Even a perpetually over-threshold probe cannot shrink below a day.
	dense := func(ctx context.Context, s, e time.Time) (int, error) {
		return maxProductsPerRange * 10, nil
	}
	ranges, err := Split(context.Background(), start, end, 4*24*time.Hour, dense)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 one-day ranges, got %d", len(ranges))
	}
	for _, r := range ranges {
		if r.End.Sub(r.Start) != 24*time.Hour {
			t.Fatalf("range width %s, want 24h", r.End.Sub(r.Start))
		}
	}
}
