package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/logger"
)

type recordingNotifier struct {
	channel Channel
	calls   atomic.Int32
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(context.Context, Event) error {
	r.calls.Add(1)
	return r.err
}

func sampleEvent() Event {
	return Event{
		Code:       "JOB_RETRIES_EXHAUSTED",
		Message:    "plugin exploded",
		Severity:   xerrors.SeverityCritical,
		JobID:      "job-1",
		PluginID:   "weighted_frequency",
		Attempts:   3,
		MaxRetries: 3,
	}
}

func TestFanoutContinuesAfterFailure(t *testing.T) {
	failing := &recordingNotifier{channel: ChannelSlack, err: errors.New("boom")}
	ok := &recordingNotifier{channel: ChannelLog}
	d := NewFanout(failing, ok, nil)

	err := d.Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "channel slack") {
		t.Fatalf("expected joined slack error, got %v", err)
	}
	if failing.calls.Load() != 1 || ok.calls.Load() != 1 {
		t.Fatalf("expected both notifiers to be called once")
	}
	if got := d.Channels(); len(got) != 2 || got[0] != ChannelLog {
		t.Fatalf("unexpected channels %v", got)
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	if err := d.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestWebhookFormats(t *testing.T) {
	cases := []struct {
		format Channel
		check  func(t *testing.T, body map[string]any)
	}{
		{"", func(t *testing.T, body map[string]any) {
			if body["job_id"] != "job-1" || body["code"] != "JOB_RETRIES_EXHAUSTED" {
				t.Fatalf("unexpected generic payload %v", body)
			}
		}},
		{ChannelSlack, func(t *testing.T, body map[string]any) {
			text, _ := body["text"].(string)
			if !strings.Contains(text, "plugin=weighted_frequency") {
				t.Fatalf("unexpected slack payload %v", body)
			}
		}},
		{ChannelDingTalk, func(t *testing.T, body map[string]any) {
			if body["msgtype"] != "text" {
				t.Fatalf("unexpected dingtalk payload %v", body)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(string(tc.format), func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &got)
				w.WriteHeader(http.StatusNoContent)
			}))
			defer srv.Close()

			n := &WebhookNotifier{URL: srv.URL, Format: tc.format}
			if err := n.Notify(context.Background(), sampleEvent()); err != nil {
				t.Fatalf("notify: %v", err)
			}
			tc.check(t, got)
		})
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestLogNotifier(t *testing.T) {
	n := &LogNotifier{Logger: logger.Discard()}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
}
