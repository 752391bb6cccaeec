package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feedrail/shopfeed/pkg/config"
	pkgerrors "github.com/feedrail/shopfeed/pkg/errors"
	"github.com/feedrail/shopfeed/pkg/logger"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	srv := httptest.NewServer(New(&config.Config{}, log).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestExportRejectsInvalidOptions(t *testing.T) {
	srv := newTestServer(t)

	// No credentials at all: the validation error must arrive as JSON before
	// any feed bytes.
	resp, err := http.Get(srv.URL + "/export")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	wantStatus := pkgerrors.MetadataFor(pkgerrors.CodeValidation).HTTPStatus
	if resp.StatusCode != wantStatus {
		t.Fatalf("status = %d, want %d", resp.StatusCode, wantStatus)
	}
	var payload struct {
		Error struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	if payload.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("error code = %q", payload.Error.Code)
	}
	if payload.Error.Reason == "" {
		t.Fatal("reason missing from error payload")
	}
}

func TestExportRejectsUnknownDataType(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/export?shop_name=acme&oauth_token=x&data_types=orders")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != pkgerrors.MetadataFor(pkgerrors.CodeValidation).HTTPStatus {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
