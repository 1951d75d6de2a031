package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com"

// TwilioConfig is the subset of provider settings the REST adapter needs.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the API host (tests).
	BaseURL string

	// StatusCallbackURL receives leg state changes.
	StatusCallbackURL string
	HoldMusicURL      string

	HTTPClient *http.Client
}

// TwilioProvider drives outbound legs through the Twilio Voice REST API.
type TwilioProvider struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPIBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioProvider{cfg: cfg, http: hc}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, p.accountURL(".json"), nil)
	return err
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, fmt.Errorf("%w: to and from are required", ErrRejected)
	}

	ringSeconds := int(req.RingTimeout / time.Second)
	if ringSeconds <= 0 {
		ringSeconds = 30
	}
	// Answered legs wait in silence until the dialer bridges or terminates them.
	await, err := AwaitBridgeTwiML(ringSeconds * 2)
	if err != nil {
		return PlaceCallResult{}, err
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", await)
	form.Set("Timeout", strconv.Itoa(ringSeconds))
	if p.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", p.cfg.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	body, err := p.do(ctx, http.MethodPost, p.accountURL("/Calls.json"), form)
	if err != nil {
		return PlaceCallResult{}, err
	}
	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: decode twilio call: %w", err)
	}
	if out.Sid == "" {
		return PlaceCallResult{}, errors.New("telephony: twilio returned empty call sid")
	}
	return PlaceCallResult{LegID: out.Sid}, nil
}

func (p *TwilioProvider) Terminate(ctx context.Context, legID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return p.updateCall(ctx, legID, form)
}

func (p *TwilioProvider) Bridge(ctx context.Context, legID, deviceIdentity string) error {
	twiml, err := BridgeTwiML(deviceIdentity)
	if err != nil {
		return err
	}
	return p.updateTwiML(ctx, legID, twiml)
}

func (p *TwilioProvider) Hold(ctx context.Context, legID string) error {
	twiml, err := HoldTwiML(p.cfg.HoldMusicURL)
	if err != nil {
		return err
	}
	return p.updateTwiML(ctx, legID, twiml)
}

func (p *TwilioProvider) Resume(ctx context.Context, legID, deviceIdentity string) error {
	return p.Bridge(ctx, legID, deviceIdentity)
}

func (p *TwilioProvider) DropVoicemail(ctx context.Context, legID, mediaURL string) error {
	twiml, err := VoicemailDropTwiML(mediaURL)
	if err != nil {
		return err
	}
	return p.updateTwiML(ctx, legID, twiml)
}

func (p *TwilioProvider) updateTwiML(ctx context.Context, legID, twiml string) error {
	form := url.Values{}
	form.Set("Twiml", twiml)
	return p.updateCall(ctx, legID, form)
}

func (p *TwilioProvider) updateCall(ctx context.Context, legID string, form url.Values) error {
	if legID == "" {
		return fmt.Errorf("%w: leg id required", ErrRejected)
	}
	_, err := p.do(ctx, http.MethodPost, p.accountURL("/Calls/"+url.PathEscape(legID)+".json"), form)
	return err
}

func (p *TwilioProvider) accountURL(suffix string) string {
	return p.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID) + suffix
}

func (p *TwilioProvider) do(ctx context.Context, method, endpoint string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	code, msg := twilioError(data)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: twilio status %d: %s", ErrTransient, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusNotFound, code == twilioCallNotInProgress:
		return nil, fmt.Errorf("%w: %s", ErrLegGone, msg)
	default:
		return nil, fmt.Errorf("%w: twilio status %d: %s", ErrRejected, resp.StatusCode, msg)
	}
}

// Twilio error 21220: the call is no longer in progress.
const twilioCallNotInProgress = 21220

func twilioError(body []byte) (int, string) {
	var e struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err != nil || e.Message == "" {
		return 0, strings.TrimSpace(string(body))
	}
	return e.Code, fmt.Sprintf("%d %s", e.Code, e.Message)
}
