package telephony

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNormalizeE164(t *testing.T) {
	got, err := NormalizeE164("(650) 253-0000", "US")
	if err != nil || got != "+16502530000" {
		t.Fatalf("expected +16502530000, got %q %v", got, err)
	}
	got, err = NormalizeE164("+44 121 234 5678", "US")
	if err != nil || got != "+441212345678" {
		t.Fatalf("expected +441212345678, got %q %v", got, err)
	}
	if _, err := NormalizeE164("12", "US"); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("expected ErrInvalidNumber, got %v", err)
	}
	if _, err := NormalizeE164("  ", "US"); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("expected ErrInvalidNumber for blank, got %v", err)
	}
}

func TestParseNumberPool(t *testing.T) {
	p, err := ParseNumberPool("+16502530001:3, (650) 253-0002", "US")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	nums := p.Numbers()
	if len(nums) != 2 || nums[0].Weight != 3 || nums[1].Number != "+16502530002" || nums[1].Weight != 1 {
		t.Fatalf("unexpected pool %+v", nums)
	}

	if _, err := ParseNumberPool("", "US"); err == nil {
		t.Fatalf("expected empty pool error")
	}
	if _, err := ParseNumberPool("+16502530001:x", "US"); err == nil {
		t.Fatalf("expected bad weight error")
	}
}

func TestNumberPoolPickHonoursWeightAndExclude(t *testing.T) {
	p, err := NewNumberPool([]CallerID{
		{Number: "+16502530001", Weight: 1},
		{Number: "+16502530002", Weight: 0},
		{Number: "+16502530003", Weight: 5},
	}, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	seen := map[string]int{}
	for i := 0; i < 200; i++ {
		seen[p.Pick()]++
	}
	if seen["+16502530002"] != 0 {
		t.Fatalf("zero-weight number was picked")
	}
	if seen["+16502530003"] <= seen["+16502530001"] {
		t.Fatalf("expected heavier number to dominate: %+v", seen)
	}

	for i := 0; i < 20; i++ {
		if got := p.Pick("+16502530003"); got != "+16502530001" {
			t.Fatalf("expected excluded number to be skipped, got %s", got)
		}
	}
	if got := p.Pick("+16502530001", "+16502530003"); got == "" {
		t.Fatalf("expected fallback when every number is excluded")
	}
}
