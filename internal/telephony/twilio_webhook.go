package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"power-dialer/internal/calls"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
//
// Keep it minimal and provider-adapter-only.
// Routing decisions are not made here.
type TwilioInboundForm struct {
	CallSid     string
	AccountSid  string
	From        string
	To          string
	Direction   string
	CallStatus  string
	CallerName  string
	FromCountry string
	ToCountry   string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:     r.PostFormValue("CallSid"),
		AccountSid:  r.PostFormValue("AccountSid"),
		From:        normalizePhone(r.PostFormValue("From")),
		To:          normalizePhone(r.PostFormValue("To")),
		Direction:   r.PostFormValue("Direction"),
		CallStatus:  r.PostFormValue("CallStatus"),
		CallerName:  r.PostFormValue("CallerName"),
		FromCountry: r.PostFormValue("FromCountry"),
		ToCountry:   r.PostFormValue("ToCountry"),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

func (f TwilioInboundForm) ToInboundCallRequest(occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}

// ProviderEvent is one leg state report from the provider.
type ProviderEvent struct {
	LegID    string            `json:"leg_id"`
	State    calls.State       `json:"state"`
	At       time.Time         `json:"at"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TwilioStatusForm is the status callback payload for a call leg.
type TwilioStatusForm struct {
	CallSid        string
	CallStatus     string
	Timestamp      string
	SequenceNumber string
	SipCode        string
	ErrorCode      string
	AnsweredBy     string
	CallDuration   string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:        r.PostFormValue("CallSid"),
		CallStatus:     strings.ToLower(strings.TrimSpace(r.PostFormValue("CallStatus"))),
		Timestamp:      r.PostFormValue("Timestamp"),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		SipCode:        r.PostFormValue("SipResponseCode"),
		ErrorCode:      r.PostFormValue("ErrorCode"),
		AnsweredBy:     r.PostFormValue("AnsweredBy"),
		CallDuration:   r.PostFormValue("CallDuration"),
	}, nil
}

// ToProviderEvent maps the form to a leg state. ok is false for statuses the
// state machine does not track.
func (f TwilioStatusForm) ToProviderEvent(received time.Time) (ProviderEvent, bool) {
	st, ok := MapTwilioStatus(f.CallStatus)
	if !ok {
		return ProviderEvent{}, false
	}
	at := received
	if f.Timestamp != "" {
		if t, err := time.Parse(time.RFC1123Z, f.Timestamp); err == nil {
			at = t
		}
	}
	md := map[string]string{"provider_status": f.CallStatus}
	for k, v := range map[string]string{
		"sequence_number": f.SequenceNumber,
		"sip_code":        f.SipCode,
		"error_code":      f.ErrorCode,
		"answered_by":     f.AnsweredBy,
		"duration":        f.CallDuration,
	} {
		if v != "" {
			md[k] = v
		}
	}
	return ProviderEvent{LegID: f.CallSid, State: st, At: at.UTC(), Metadata: md}, true
}

// MapTwilioStatus converts a Twilio CallStatus to a leg state.
// A canceled leg never reached the callee, so it counts as no answer.
func MapTwilioStatus(s string) (calls.State, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return calls.StateInitiated, true
	case "ringing":
		return calls.StateRinging, true
	case "in-progress", "answered":
		return calls.StateConnected, true
	case "completed":
		return calls.StateCompleted, true
	case "busy":
		return calls.StateBusy, true
	case "no-answer", "canceled":
		return calls.StateNoAnswer, true
	case "failed":
		return calls.StateFailed, true
	default:
		return "", false
	}
}

// ValidateTwilioSignature checks X-Twilio-Signature for a form POST.
// fullURL must be the exact public URL Twilio called, including query string.
func ValidateTwilioSignature(authToken, fullURL string, form url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
