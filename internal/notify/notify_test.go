package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func reply(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader("")),
		Header:     make(http.Header),
	}
}

func TestBatchFinishedPostsJSON(t *testing.T) {
	var gotPath, gotType string
	var got payload
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		return reply(http.StatusOK), nil
	})}

	n := &Notifier{Endpoint: "http://example.com/hooks/capture", Client: client}
	summary := BatchSummary{Total: 3, Completed: 2, Failed: 1, FailedIDs: []string{"c3"}, Duration: 42 * time.Second}
	if err := n.BatchFinished(context.Background(), summary); err != nil {
		t.Fatalf("BatchFinished() error = %v", err)
	}

	if gotPath != "/hooks/capture" || gotType != "application/json" {
		t.Fatalf("path/type = %q %q", gotPath, gotType)
	}
	if want := "capture batch finished: 3 total, 2 completed, 1 failed, 0 skipped in 42s"; got.Text != want {
		t.Fatalf("text = %q; want %q", got.Text, want)
	}
	if got.Event != "batch.finished" || got.Batch.Completed != 2 || len(got.Batch.FailedIDs) != 1 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestBatchFinishedWithoutEndpointIsNoop(t *testing.T) {
	called := false
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return reply(http.StatusOK), nil
	})}
	n := &Notifier{Client: client}
	if err := n.BatchFinished(context.Background(), BatchSummary{Total: 1}); err != nil {
		t.Fatalf("BatchFinished() = %v; want nil", err)
	}
	var nilNotifier *Notifier
	if err := nilNotifier.BatchFinished(context.Background(), BatchSummary{}); err != nil {
		t.Fatalf("nil BatchFinished() = %v; want nil", err)
	}
	if called {
		t.Fatal("no request should be sent without an endpoint")
	}
}

func TestBatchFinishedRetriesServerErrors(t *testing.T) {
	calls := 0
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return reply(http.StatusBadGateway), nil
		}
		return reply(http.StatusNoContent), nil
	})}
	n := &Notifier{Endpoint: "http://example.com/n", Client: client, Backoff: time.Millisecond}
	if err := n.BatchFinished(context.Background(), BatchSummary{}); err != nil {
		t.Fatalf("BatchFinished() = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d; want 3", calls)
	}
}

func TestBatchFinishedStopsOnClientError(t *testing.T) {
	calls := 0
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return reply(http.StatusForbidden), nil
	})}
	n := &Notifier{Endpoint: "http://example.com/n", Client: client, Backoff: time.Millisecond}
	err := n.BatchFinished(context.Background(), BatchSummary{})
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("BatchFinished() = %v; want 403 rejection", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d; want 1", calls)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return reply(http.StatusInternalServerError), nil
	})}
	err := Send(context.Background(), client, "http://example.com/notifications", "text/plain", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "batch notification failed") {
		t.Fatalf("Send() = %v; want server failure", err)
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	if err := Send(context.Background(), http.DefaultClient, "", "text/plain", nil); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
