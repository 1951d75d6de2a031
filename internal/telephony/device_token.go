package telephony

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceTokenConfig holds the API key used to sign softphone access tokens.
type DeviceTokenConfig struct {
	AccountSID   string
	APIKeySID    string
	APIKeySecret string
	TwiMLAppSID  string
	TTL          time.Duration
}

// DeviceTokens issues Twilio Voice SDK access tokens for rep softphones.
type DeviceTokens struct {
	cfg DeviceTokenConfig
}

func NewDeviceTokens(cfg DeviceTokenConfig) (*DeviceTokens, error) {
	if cfg.AccountSID == "" || cfg.APIKeySID == "" || cfg.APIKeySecret == "" {
		return nil, errors.New("telephony: account sid, api key sid and secret are required for device tokens")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	return &DeviceTokens{cfg: cfg}, nil
}

type voiceIncoming struct {
	Allow bool `json:"allow"`
}

type voiceOutgoing struct {
	ApplicationSID string `json:"application_sid,omitempty"`
}

type voiceGrant struct {
	Incoming voiceIncoming  `json:"incoming"`
	Outgoing *voiceOutgoing `json:"outgoing,omitempty"`
}

type deviceGrants struct {
	Identity string     `json:"identity"`
	Voice    voiceGrant `json:"voice"`
}

// DeviceClaims is the access token payload.
type DeviceClaims struct {
	jwt.RegisteredClaims

	Grants deviceGrants `json:"grants"`
}

// DeviceToken is returned to the browser softphone.
type DeviceToken struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issue signs a token that lets identity receive bridged calls.
func (d *DeviceTokens) Issue(identity string, now time.Time) (DeviceToken, error) {
	if identity == "" {
		return DeviceToken{}, errors.New("telephony: identity required")
	}
	exp := now.Add(d.cfg.TTL)

	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        fmt.Sprintf("%s-%d", d.cfg.APIKeySID, now.Unix()),
			Issuer:    d.cfg.APIKeySID,
			Subject:   d.cfg.AccountSID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Grants: deviceGrants{
			Identity: identity,
			Voice:    voiceGrant{Incoming: voiceIncoming{Allow: true}},
		},
	}
	if d.cfg.TwiMLAppSID != "" {
		claims.Grants.Voice.Outgoing = &voiceOutgoing{ApplicationSID: d.cfg.TwiMLAppSID}
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["cty"] = "twilio-fpa;v=1"
	signed, err := t.SignedString([]byte(d.cfg.APIKeySecret))
	if err != nil {
		return DeviceToken{}, err
	}
	return DeviceToken{Token: signed, Identity: identity, ExpiresAt: exp}, nil
}

// Verify parses a token issued by Issue and returns its identity.
func (d *DeviceTokens) Verify(token string, now time.Time) (string, error) {
	var claims DeviceClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(d.cfg.APIKeySID),
		jwt.WithSubject(d.cfg.AccountSID),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(d.cfg.APIKeySecret), nil
	}); err != nil {
		return "", err
	}
	if claims.Grants.Identity == "" {
		return "", errors.New("telephony: identity missing")
	}
	return claims.Grants.Identity, nil
}
