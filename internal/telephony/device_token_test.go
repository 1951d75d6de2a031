package telephony

import (
	"testing"
	"time"
)

func TestDeviceTokenIssueVerify(t *testing.T) {
	d, err := NewDeviceTokens(DeviceTokenConfig{
		AccountSID:   "AC1",
		APIKeySID:    "SK1",
		APIKeySecret: "shh",
		TwiMLAppSID:  "AP1",
		TTL:          10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	now := time.Now()
	tok, err := d.Issue("rep-1", now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !tok.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", tok.ExpiresAt)
	}

	id, err := d.Verify(tok.Token, now.Add(time.Minute))
	if err != nil || id != "rep-1" {
		t.Fatalf("expected rep-1, got %q %v", id, err)
	}
	if _, err := d.Verify(tok.Token, now.Add(time.Hour)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestDeviceTokenRequiresKey(t *testing.T) {
	if _, err := NewDeviceTokens(DeviceTokenConfig{AccountSID: "AC1"}); err == nil {
		t.Fatalf("expected error without api key")
	}
	d, _ := NewDeviceTokens(DeviceTokenConfig{AccountSID: "AC1", APIKeySID: "SK1", APIKeySecret: "s"})
	if _, err := d.Issue("", time.Now()); err == nil {
		t.Fatalf("expected error without identity")
	}
}
