package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
)

// fakeAPI scripts responses per request kind. submits and statuses are
// consumed in order; the last entry repeats once exhausted.
type fakeAPI struct {
	submits    []string
	statuses   []string
	submitSeen int
	statusSeen int
	cancels    int
	fileBody   string
}

func (f *fakeAPI) GraphQLQuery(ctx context.Context, query string, out any) error {
	switch {
	case strings.Contains(query, "bulkOperationRunQuery"):
		resp := f.take(f.submits, &f.submitSeen)
		return json.Unmarshal([]byte(resp), out)
	case strings.Contains(query, "bulkOperationCancel"):
		f.cancels++
		return json.Unmarshal([]byte(`{"bulkOperationCancel":{"userErrors":[]}}`), out)
	case strings.Contains(query, "node(id:"):
		resp := f.take(f.statuses, &f.statusSeen)
		return json.Unmarshal([]byte(resp), out)
	}
	return fmt.Errorf("unexpected query: %s", query)
}

func (f *fakeAPI) take(list []string, seen *int) string {
	i := *seen
	if i >= len(list) {
		i = len(list) - 1
	}
	*seen++
	return list[i]
}

func (f *fakeAPI) Download(ctx context.Context, rawURL string, dst *os.File) (int64, error) {
	n, err := dst.WriteString(f.fileBody)
	return int64(n), err
}

const (
	submitOK      = `{"bulkOperationRunQuery":{"bulkOperation":{"id":"gid://shopify/BulkOperation/1","status":"CREATED"},"userErrors":[]}}`
	submitBlocked = `{"bulkOperationRunQuery":{"bulkOperation":{},"userErrors":[{"field":null,"message":"A bulk query operation for this app and shop is already in progress"}]}}`
	submitThrottl = `{"bulkOperationRunQuery":{"bulkOperation":{},"userErrors":[{"field":null,"message":"Throttled"}]}}`
)

func statusJSON(status, url string) string {
	return fmt.Sprintf(`{"node":{"id":"gid://shopify/BulkOperation/1","status":%q,"objectCount":"3","url":%q}}`, status, url)
}

func newTestDriver(api *fakeAPI) *Driver {
	d := NewDriver(api, nil)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestRunSucceedsAfterBlockedRetries(t *testing.T) {
	api := &fakeAPI{
		submits:  append(repeat(submitBlocked, MaxBlockedRetries-1), submitOK),
		statuses: []string{statusJSON("RUNNING", ""), statusJSON("COMPLETED", "")},
	}
	d := newTestDriver(api)

	path, cleanup, err := d.Run(context.Background(), "{ products { edges { node { id } } } }")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	defer cleanup()
	if path != "" {
		t.Fatalf("operation with no result url should return empty path, got %q", path)
	}
	if api.submitSeen != MaxBlockedRetries {
		t.Fatalf("expected %d submits, got %d", MaxBlockedRetries, api.submitSeen)
	}
}

func TestRunFailsPastBlockedBudget(t *testing.T) {
	api := &fakeAPI{submits: repeat(submitBlocked, MaxBlockedRetries+1)}
	d := newTestDriver(api)

	_, _, err := d.Run(context.Background(), "{ products { edges { node { id } } } }")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeBulkBlocked {
		t.Fatalf("expected BULK_BLOCKED, got %v", err)
	}
	if api.submitSeen != MaxBlockedRetries+1 {
		t.Fatalf("expected %d submits before giving up, got %d", MaxBlockedRetries+1, api.submitSeen)
	}
}

func TestRunFailsPastThrottledBudget(t *testing.T) {
	api := &fakeAPI{submits: repeat(submitThrottl, MaxThrottledRetries+1)}
	d := newTestDriver(api)

	_, _, err := d.Run(context.Background(), "{ products { edges { node { id } } } }")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeBulkThrottled {
		t.Fatalf("expected BULK_THROTTLED, got %v", err)
	}
}

func TestRunDownloadsResultFile(t *testing.T) {
	api := &fakeAPI{
		submits:  []string{submitOK},
		statuses: []string{statusJSON("COMPLETED", "https://storage.example/result.jsonl")},
		fileBody: `{"id":"gid://shopify/Product/1"}` + "\n",
	}
	d := newTestDriver(api)

	path, cleanup, err := d.Run(context.Background(), "{ products { edges { node { id } } } }")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("result file unreadable: %v", err)
	}
	if string(body) != api.fileBody {
		t.Fatalf("downloaded body mismatch: %q", body)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("cleanup should remove the result file")
	}
}

func TestPollFailedStateCancelsAndErrors(t *testing.T) {
	api := &fakeAPI{
		submits:  []string{submitOK},
		statuses: []string{statusJSON("FAILED", "")},
	}
	d := newTestDriver(api)

	_, _, err := d.Run(context.Background(), "{ products { edges { node { id } } } }")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeBulkFailed {
		t.Fatalf("expected BULK_FAILED, got %v", err)
	}
	if api.cancels != 1 {
		t.Fatalf("expected a best-effort cancel, got %d", api.cancels)
	}
}

func TestPollTimesOut(t *testing.T) {
	api := &fakeAPI{
		submits:  []string{submitOK},
		statuses: []string{statusJSON("RUNNING", "")},
	}
	d := newTestDriver(api)

	_, _, err := d.Run(context.Background(), "{ products { edges { node { id } } } }")
	if pkgerrors.CodeOf(err) != pkgerrors.CodePollTimeout {
		t.Fatalf("expected POLL_TIMEOUT, got %v", err)
	}
	if api.statusSeen != MaxPollAttempts {
		t.Fatalf("expected %d polls, got %d", MaxPollAttempts, api.statusSeen)
	}
}
