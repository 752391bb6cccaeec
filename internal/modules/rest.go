package modules

import (
	"context"
	"fmt"
	"net/http"

	"github.com/feedrail/shopfeed/internal/shopify"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/ratelimit"
)

// productPageTiers are the page sizes tried in order; a transient failure on
// a page drops to the next smaller tier and retries the same page.
var productPageTiers = []int{250, 150, 125, 100, 75, 50, 25, 10}

// maxRESTWorkers caps the REST pull pool regardless of rate headroom.
const maxRESTWorkers = 50

// paginator walks one resource's page_info cursor chain with tiered
// page-size backoff.
type paginator struct {
	client *shopify.Client
	bucket *ratelimit.Bucket
	tiers  []int
	tier   int

	// rateReserve is 3·rate·modifier: the call-limit headroom below which
	// the worker waits for a token before calling.
	rateReserve float64
}

func newPaginator(client *shopify.Client, bucket *ratelimit.Bucket, modifier float64) *paginator {
	return &paginator{
		client:      client,
		bucket:      bucket,
		tiers:       productPageTiers,
		rateReserve: 3 * bucket.Rate() * modifier,
	}
}

// limit is the current tier's page size.
func (p *paginator) limit() int {
	return p.tiers[p.tier]
}

// backoff drops to the next smaller page size, reporting false once the
// smallest tier has already failed.
func (p *paginator) backoff() bool {
	if p.tier >= len(p.tiers)-1 {
		return false
	}
	p.tier++
	return true
}

// throttle implements the pre-call check: when the shop's observed call
// limit is near exhaustion, wait for a full token; otherwise ride the burst
// allowance for free.
func (p *paginator) throttle(ctx context.Context) error {
	limit := p.client.CallLimit()
	if limit.Total > 0 && float64(limit.Used) >= float64(limit.Total)-p.rateReserve {
		return p.bucket.WaitUntilAvailable(ctx, 1)
	}
	return nil
}

// fetchPages walks every page under the base params, invoking fn with each
// raw page body. Transient statuses retry the same page at a smaller size;
// anything else aborts.
func (p *paginator) fetchPages(ctx context.Context, path string, baseParams map[string]string, fn func(body []byte) error) (int, error) {
	pages := 0
	cursor := ""

	for {
		if err := p.throttle(ctx); err != nil {
			return pages, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "canceled during throttle wait")
		}

		params := map[string]string{"limit": fmt.Sprintf("%d", p.limit())}
		if cursor != "" {
			// Cursor requests may only carry limit and page_info.
			params["page_info"] = cursor
		} else {
			for k, v := range baseParams {
				params[k] = v
			}
		}

		body, err := p.client.Request(ctx, http.MethodGet, path, params, nil)
		if err != nil {
			if pkgerrors.CodeOf(err) == pkgerrors.CodeTransient && p.backoff() {
				continue
			}
			return pages, err
		}

		pages++
		if err := fn(body); err != nil {
			return pages, err
		}

		cursor = p.client.ParseLinkHeader().Next
		if cursor == "" {
			return pages, nil
		}
	}
}

// workerRate derives a worker's token rate from the shop's burst capacity:
// a 40-burst shop sustains 2 calls/s, an 80-burst (plus) shop 4.
func workerRate(limit shopify.CallLimit) float64 {
	if limit.Total >= 80 {
		return 4
	}
	return 2
}

// rateModifier widens the reserve window for very large shops.
func rateModifier(productCount int) float64 {
	if productCount > 50000 {
		return 4
	}
	return 3
}

// restThreadCount bounds worker concurrency by the sustained rate, the
// number of work slices, and the hard cap.
func restThreadCount(rate float64, ranges int) int {
	count := int(rate)
	if ranges < count {
		count = ranges
	}
	if count > maxRESTWorkers {
		count = maxRESTWorkers
	}
	if count < 1 {
		count = 1
	}
	return count
}
