package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "NLP-Chain/internal/errors"
)

type failingNotifier struct{}

func (failingNotifier) Channel() Channel { return "failing" }

func (failingNotifier) Notify(context.Context, Event) error { return errors.New("down") }

func TestWebhookNotifierPostsJSON(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode alert: %v", err)
		}
		received <- evt
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewFanout(LogNotifier{}, &WebhookNotifier{URL: srv.URL, Client: srv.Client()})
	err := d.Notify(context.Background(), Event{
		Code:       xerrors.CodeStorageFailure,
		Severity:   xerrors.SeverityCritical,
		Stage:      "upsert",
		LedgerID:   "l1",
		Index:      3,
		OccurredAt: time.Unix(1, 0),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	evt := <-received
	if evt.LedgerID != "l1" || evt.Index != 3 || evt.Stage != "upsert" {
		t.Fatalf("unexpected alert payload: %+v", evt)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	d := NewFanout(LogNotifier{}, failingNotifier{}, nil)
	if err := d.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected failing channel to surface an error")
	}
	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher should be a no-op: %v", err)
	}
}

func TestFanoutKeepsFirstNotifierPerChannel(t *testing.T) {
	d := NewFanout(failingNotifier{}, LogNotifier{}, failingNotifier{})
	if len(d.notifiers) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(d.notifiers))
	}
}
