package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"power-dialer/internal/calls"

	"github.com/gin-gonic/gin"
)

func formRequest(path string, v url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(v.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseTwilioInboundCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioInboundCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}

	req := form.ToInboundCallRequest(time.Unix(1700000000, 0).UTC())
	if req.ProviderCallID != "CA123" {
		t.Fatalf("expected provider call id")
	}
	if req.From == "" || req.To == "" || req.RawPayload == "" {
		t.Fatalf("expected from/to/raw payload: %+v", req)
	}
}

func TestMapTwilioStatus(t *testing.T) {
	cases := map[string]calls.State{
		"queued":      calls.StateInitiated,
		"initiated":   calls.StateInitiated,
		"ringing":     calls.StateRinging,
		"in-progress": calls.StateConnected,
		"answered":    calls.StateConnected,
		"completed":   calls.StateCompleted,
		"busy":        calls.StateBusy,
		"no-answer":   calls.StateNoAnswer,
		"canceled":    calls.StateNoAnswer,
		"failed":      calls.StateFailed,
		" Ringing ":   calls.StateRinging,
	}
	for in, want := range cases {
		got, ok := MapTwilioStatus(in)
		if !ok || got != want {
			t.Fatalf("%q: expected %s, got %s (%v)", in, want, got, ok)
		}
	}
	if _, ok := MapTwilioStatus("paused"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestStatusCallbackToProviderEvent(t *testing.T) {
	v := url.Values{}
	v.Set("CallSid", "CA9")
	v.Set("CallStatus", "in-progress")
	v.Set("Timestamp", "Tue, 14 Nov 2023 22:13:20 +0000")
	v.Set("SequenceNumber", "2")

	form, err := ParseTwilioStatusCallback(formRequest("/webhooks/twilio/status", v))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	received := time.Unix(1800000000, 0).UTC()
	ev, ok := form.ToProviderEvent(received)
	if !ok {
		t.Fatalf("expected event")
	}
	if ev.LegID != "CA9" || ev.State != calls.StateConnected {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.At.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("expected provider timestamp, got %s", ev.At)
	}
	if ev.Metadata["sequence_number"] != "2" {
		t.Fatalf("expected sequence number in metadata: %+v", ev.Metadata)
	}

	form.Timestamp = "garbage"
	ev, _ = form.ToProviderEvent(received)
	if !ev.At.Equal(received) {
		t.Fatalf("expected fallback to receive time, got %s", ev.At)
	}
}

func sign(token, fullURL string, v url.Values) string {
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(fullURL))
	for _, k := range []string{"CallSid", "CallStatus"} {
		mac.Write([]byte(k + v.Get(k)))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateTwilioSignature(t *testing.T) {
	v := url.Values{}
	v.Set("CallStatus", "ringing")
	v.Set("CallSid", "CA1")
	full := "https://dialer.example/webhooks/twilio/status?x=1"
	sig := sign("secret", full, v)

	if !ValidateTwilioSignature("secret", full, v, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidateTwilioSignature("other", full, v, sig) {
		t.Fatalf("expected wrong token to fail")
	}
	v.Set("CallStatus", "completed")
	if ValidateTwilioSignature("secret", full, v, sig) {
		t.Fatalf("expected tampered form to fail")
	}
	if ValidateTwilioSignature("secret", full, v, "") {
		t.Fatalf("expected missing signature to fail")
	}
}

type fakeSink struct {
	got []ProviderEvent
	err error
}

func (f *fakeSink) ApplyProviderEvent(ctx context.Context, legID string, reported calls.State, at time.Time) (calls.Transition, error) {
	f.got = append(f.got, ProviderEvent{LegID: legID, State: reported, At: at})
	if f.err != nil {
		return calls.Transition{}, f.err
	}
	return calls.Transition{From: calls.StateInitiated, To: reported, Applied: true}, nil
}

type fakeRouter struct {
	res InboundCallResult
	err error
}

func (f fakeRouter) RouteInbound(ctx context.Context, req InboundCallRequest) (InboundCallResult, error) {
	return f.res, f.err
}

func webhookRouter(h TwilioWebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatusCallback)
	r.POST("/webhooks/twilio/voice", h.HandleInboundCall)
	return r
}

func TestStatusCallbackAlwaysAcknowledges(t *testing.T) {
	sink := &fakeSink{err: calls.ErrUnknownLeg}
	r := webhookRouter(TwilioWebhookHandler{Legs: sink})

	for _, status := range []string{"ringing", "not-a-status"} {
		v := url.Values{}
		v.Set("CallSid", "CA1")
		v.Set("CallStatus", status)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, formRequest("/webhooks/twilio/status", v))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", status, w.Code)
		}
	}
	if len(sink.got) != 1 || sink.got[0].State != calls.StateRinging {
		t.Fatalf("expected only the known status to be applied, got %+v", sink.got)
	}
}

func TestStatusCallbackRejectsBadSignature(t *testing.T) {
	sink := &fakeSink{}
	r := webhookRouter(TwilioWebhookHandler{
		Legs:               sink,
		AuthToken:          "secret",
		ValidateSignatures: true,
		PublicBaseURL:      "https://dialer.example",
	})

	v := url.Values{}
	v.Set("CallSid", "CA1")
	v.Set("CallStatus", "ringing")

	req := formRequest("/webhooks/twilio/status", v)
	req.Header.Set("X-Twilio-Signature", "bogus")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	req = formRequest("/webhooks/twilio/status", v)
	req.Header.Set("X-Twilio-Signature", sign("secret", "https://dialer.example/webhooks/twilio/status", v))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(sink.got) != 1 {
		t.Fatalf("expected signed callback to apply, got %d %+v", w.Code, sink.got)
	}
}

func TestInboundCallRendersDecision(t *testing.T) {
	r := webhookRouter(TwilioWebhookHandler{Inbound: fakeRouter{res: InboundCallResult{
		Action:    InboundCallActionConnect,
		ConnectTo: "client:rep-1",
	}}})

	v := url.Values{}
	v.Set("CallSid", "CA5")
	v.Set("From", "+15551234567")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/voice", v))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Client>rep-1</Client>") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestInboundCallRejectsOnRoutingError(t *testing.T) {
	r := webhookRouter(TwilioWebhookHandler{Inbound: fakeRouter{err: errors.New("db down")}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, formRequest("/webhooks/twilio/voice", url.Values{"CallSid": {"CA6"}}))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Reject") {
		t.Fatalf("expected reject twiml, got %d %s", w.Code, w.Body.String())
	}
}
