package telephony

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nyaruka/phonenumbers"
)

var ErrInvalidNumber = errors.New("telephony: invalid phone number")

// NormalizeE164 parses raw in the given default region and returns its E.164 form.
func NormalizeE164(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNumber)
	}
	if region == "" {
		region = "US"
	}
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidNumber, raw, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w: %s", ErrInvalidNumber, raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// CallerID is one outbound number and its selection weight.
type CallerID struct {
	Number string
	Weight int
}

// NumberPool picks an outbound caller id per leg by weight.
type NumberPool struct {
	mu      sync.Mutex
	numbers []CallerID
	rng     *rand.Rand
}

// ParseNumberPool reads "number[:weight],..." entries. Weight defaults to 1.
func ParseNumberPool(list, region string) (*NumberPool, error) {
	var out []CallerID
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		raw, weight := part, 1
		if i := strings.LastIndex(part, ":"); i > 0 {
			w, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("telephony: bad caller id weight %q", part)
			}
			raw, weight = part[:i], w
		}
		num, err := NormalizeE164(raw, region)
		if err != nil {
			return nil, err
		}
		out = append(out, CallerID{Number: num, Weight: weight})
	}
	return NewNumberPool(out, nil)
}

func NewNumberPool(numbers []CallerID, rng *rand.Rand) (*NumberPool, error) {
	var total int
	for _, n := range numbers {
		if n.Weight > 0 {
			total += n.Weight
		}
	}
	if total == 0 {
		return nil, errors.New("telephony: caller id pool is empty")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &NumberPool{numbers: numbers, rng: rng}, nil
}

// Pick returns a weighted random caller id, skipping any in exclude.
// Falls back to the full pool when every number is excluded.
func (p *NumberPool) Pick(exclude ...string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	if n, ok := p.pick(skip); ok {
		return n
	}
	n, _ := p.pick(nil)
	return n
}

func (p *NumberPool) pick(skip map[string]bool) (string, bool) {
	var total int
	for _, n := range p.numbers {
		if n.Weight <= 0 || skip[n.Number] {
			continue
		}
		total += n.Weight
	}
	if total <= 0 {
		return "", false
	}
	r := p.rng.Intn(total)

	var acc int
	for _, n := range p.numbers {
		if n.Weight <= 0 || skip[n.Number] {
			continue
		}
		acc += n.Weight
		if r < acc {
			return n.Number, true
		}
	}
	return "", false
}

// Numbers returns a copy of the pool entries.
func (p *NumberPool) Numbers() []CallerID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CallerID(nil), p.numbers...)
}
