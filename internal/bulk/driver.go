// Package bulk drives Shopify bulk operations: submit, poll to completion,
// download the JSONL result, and hand it to a module parser.
package bulk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
	"github.com/google/uuid"
)

// API is the slice of the shop client the driver needs.
type API interface {
	GraphQLQuery(ctx context.Context, query string, out any) error
	Download(ctx context.Context, rawURL string, dst *os.File) (int64, error)
}

const (
	MaxRetries          = 256
	MaxBlockedRetries   = 30
	MaxThrottledRetries = 30
	MaxPollAttempts     = 2000
	MaxPollErrors       = 8
	WaitSeconds         = 10
)

// Operation is the node payload of a bulk operation status query.
type Operation struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ErrorCode       string `json:"errorCode"`
	CreatedAt       string `json:"createdAt"`
	CompletedAt     string `json:"completedAt"`
	ObjectCount     string `json:"objectCount"`
	RootObjectCount string `json:"rootObjectCount"`
	FileSize        string `json:"fileSize"`
	URL             string `json:"url"`
	PartialDataURL  string `json:"partialDataUrl"`
}

// Driver runs one bulk operation at a time against a shop.
type Driver struct {
	client API
	log    *logger.Logger

	pollInterval  time.Duration
	blockedWait   time.Duration
	throttledWait time.Duration
	sleep         func(context.Context, time.Duration) error

	currentID string
}

// NewDriver wraps the client with the standard wait policy.
func NewDriver(client API, log *logger.Logger) *Driver {
	return &Driver{
		client:        client,
		log:           log,
		pollInterval:  (5 + WaitSeconds) * time.Second,
		blockedWait:   (WaitSeconds + 10) * time.Second,
		throttledWait: 5 * time.Second,
		sleep:         sleepCtx,
	}
}

// Run executes the full submit, poll, download pipeline for the inner query
// document and returns the path of the downloaded JSONL file plus a cleanup
// func that removes it. An operation that completes with no objects returns
// an empty path.
func (d *Driver) Run(ctx context.Context, innerQuery string) (string, func(), error) {
	id, err := d.submitWithRetry(ctx, innerQuery)
	if err != nil {
		return "", nil, err
	}
	d.currentID = id

	op, err := d.poll(ctx, id)
	if err != nil {
		// Leaving the operation running would block the shop's next submit.
		cancelCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		if cancelErr := d.Cancel(cancelCtx, id); cancelErr != nil && d.log != nil {
			d.log.Warn(cancelCtx, fmt.Sprintf("best-effort bulk cancel failed: %v", cancelErr))
		}
		return "", nil, err
	}
	d.currentID = ""

	if op.URL == "" {
		// COMPLETED with no result file means zero matching objects.
		return "", func() {}, nil
	}

	path, err := d.download(ctx, op.URL)
	if err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.Remove(path) }, nil
}

// CancelCurrent best-effort cancels the in-flight operation, if any.
func (d *Driver) CancelCurrent(ctx context.Context) error {
	if d.currentID == "" {
		return nil
	}
	return d.Cancel(ctx, d.currentID)
}

type submitResult struct {
	BulkOperationRunQuery struct {
		BulkOperation struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"bulkOperation"`
		UserErrors []struct {
			Field   []string `json:"field"`
			Message string   `json:"message"`
		} `json:"userErrors"`
	} `json:"bulkOperationRunQuery"`
}

func (d *Driver) submitWithRetry(ctx context.Context, innerQuery string) (string, error) {
	blocked := 0
	throttled := 0

	for attempt := 0; attempt < MaxRetries; attempt++ {
		id, err := d.submit(ctx, innerQuery)
		if err == nil {
			return id, nil
		}

		switch pkgerrors.CodeOf(err) {
		case pkgerrors.CodeBulkBlocked:
			blocked++
			if blocked > MaxBlockedRetries {
				return "", err
			}
			if d.log != nil {
				d.log.Warn(ctx, fmt.Sprintf("bulk submit blocked (%d/%d), waiting %s", blocked, MaxBlockedRetries, d.blockedWait))
			}
			if sleepErr := d.sleep(ctx, d.blockedWait); sleepErr != nil {
				return "", pkgerrors.Wrap(pkgerrors.CodeInfra, sleepErr, "canceled while blocked")
			}
		case pkgerrors.CodeBulkThrottled, pkgerrors.CodeRateLimit:
			throttled++
			if throttled > MaxThrottledRetries {
				return "", err
			}
			if sleepErr := d.sleep(ctx, d.throttledWait); sleepErr != nil {
				return "", pkgerrors.Wrap(pkgerrors.CodeInfra, sleepErr, "canceled while throttled")
			}
		default:
			return "", err
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeBulkFailed, "bulk submit retry budget exhausted")
}

func (d *Driver) submit(ctx context.Context, innerQuery string) (string, error) {
	mutation := fmt.Sprintf(`mutation {
  bulkOperationRunQuery(query: """
%s
""") {
    bulkOperation { id status }
    userErrors { field message }
  }
}`, innerQuery)

	var result submitResult
	if err := d.client.GraphQLQuery(ctx, mutation, &result); err != nil {
		return "", err
	}

	if errs := result.BulkOperationRunQuery.UserErrors; len(errs) > 0 {
		message := errs[0].Message
		switch {
		case strings.Contains(message, "already in progress"):
			return "", pkgerrors.New(pkgerrors.CodeBulkBlocked, message)
		case strings.Contains(message, "Throttled"):
			return "", pkgerrors.New(pkgerrors.CodeBulkThrottled, message)
		default:
			return "", pkgerrors.New(pkgerrors.CodeBulkFailed, fmt.Sprintf("bulk submit rejected: %s", message))
		}
	}

	id := result.BulkOperationRunQuery.BulkOperation.ID
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeBulkFailed, "bulk submit returned no operation id")
	}
	return id, nil
}

func (d *Driver) poll(ctx context.Context, id string) (Operation, error) {
	pollErrors := 0

	for attempt := 0; attempt < MaxPollAttempts; attempt++ {
		if err := d.sleep(ctx, d.pollInterval); err != nil {
			return Operation{}, pkgerrors.Wrap(pkgerrors.CodeInfra, err, "canceled while polling")
		}

		op, err := d.status(ctx, id)
		if err != nil {
			pollErrors++
			if pollErrors > MaxPollErrors {
				return Operation{}, pkgerrors.Wrap(pkgerrors.CodeBulkFailed, err, "bulk poll error budget exhausted")
			}
			continue
		}

		switch op.Status {
		case "COMPLETED":
			return op, nil
		case "CREATED", "RUNNING":
			continue
		case "CANCELED", "CANCELING", "EXPIRED", "FAILED":
			return Operation{}, pkgerrors.New(pkgerrors.CodeBulkFailed,
				fmt.Sprintf("bulk operation %s (error code %q)", strings.ToLower(op.Status), op.ErrorCode))
		default:
			pollErrors++
			if pollErrors > MaxPollErrors {
				return Operation{}, pkgerrors.New(pkgerrors.CodeBulkFailed,
					fmt.Sprintf("bulk operation in unknown status %q", op.Status))
			}
		}
	}
	return Operation{}, pkgerrors.New(pkgerrors.CodePollTimeout,
		fmt.Sprintf("bulk operation did not complete within %d polls", MaxPollAttempts))
}

func (d *Driver) status(ctx context.Context, id string) (Operation, error) {
	query := fmt.Sprintf(`query {
  node(id: "%s") {
    ... on BulkOperation {
      id status errorCode createdAt completedAt objectCount rootObjectCount fileSize url partialDataUrl
    }
  }
}`, id)

	var result struct {
		Node Operation `json:"node"`
	}
	if err := d.client.GraphQLQuery(ctx, query, &result); err != nil {
		return Operation{}, err
	}
	if result.Node.ID == "" {
		return Operation{}, pkgerrors.New(pkgerrors.CodeBulkFailed, "bulk status query returned no node")
	}
	return result.Node, nil
}

// Cancel issues a bulkOperationCancel mutation for the given operation.
func (d *Driver) Cancel(ctx context.Context, id string) error {
	mutation := fmt.Sprintf(`mutation {
  bulkOperationCancel(id: "%s") {
    bulkOperation { id status }
    userErrors { field message }
  }
}`, id)
	var result struct {
		BulkOperationCancel struct {
			UserErrors []struct {
				Message string `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationCancel"`
	}
	if err := d.client.GraphQLQuery(ctx, mutation, &result); err != nil {
		return err
	}
	if errs := result.BulkOperationCancel.UserErrors; len(errs) > 0 {
		return pkgerrors.New(pkgerrors.CodeBulkFailed, fmt.Sprintf("bulk cancel rejected: %s", errs[0].Message))
	}
	return nil
}

func (d *Driver) download(ctx context.Context, rawURL string) (string, error) {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("shopfeed_bulk_%s.jsonl", uuid.NewString()))
	file, err := os.Create(path)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInfra, err, "creating bulk result file")
	}
	defer file.Close()

	if _, err := d.client.Download(ctx, rawURL, file); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
