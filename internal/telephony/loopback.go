package telephony

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Command is one provider call recorded by LoopbackProvider.
type Command struct {
	Op     string
	LegID  string
	To     string
	From   string
	Target string
}

// LoopbackProvider accepts every command without touching a carrier.
// Used for local runs and tests; leg state changes must be reported by the caller.
type LoopbackProvider struct {
	mu       sync.Mutex
	commands []Command
	failures map[string][]error
	seq      func() string
}

func NewLoopbackProvider() *LoopbackProvider {
	return &LoopbackProvider{
		failures: map[string][]error{},
		seq:      func() string { return "LB" + uuid.NewString() },
	}
}

// WithLegIDs makes PlaceCall return the given ids in order, then fall back to generated ones.
func (p *LoopbackProvider) WithLegIDs(ids ...string) *LoopbackProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := p.seq
	queue := append([]string(nil), ids...)
	p.seq = func() string {
		if len(queue) == 0 {
			return next()
		}
		id := queue[0]
		queue = queue[1:]
		return id
	}
	return p
}

// FailNext queues errors returned by the next calls of op ("place", "terminate",
// "bridge", "hold", "resume", "voicemail").
func (p *LoopbackProvider) FailNext(op string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], errs...)
}

// Commands returns what has been sent so far.
func (p *LoopbackProvider) Commands() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.commands...)
}

// Count returns how many times op was issued.
func (p *LoopbackProvider) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, c := range p.commands {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (p *LoopbackProvider) Name() string { return "loopback" }

func (p *LoopbackProvider) HealthCheck(ctx context.Context) error { return ctx.Err() }

func (p *LoopbackProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := Command{Op: "place", To: req.To, From: req.From}
	p.commands = append(p.commands, cmd)
	if err := p.failure("place"); err != nil {
		return PlaceCallResult{}, err
	}
	id := p.seq()
	p.commands[len(p.commands)-1].LegID = id
	return PlaceCallResult{LegID: id}, nil
}

func (p *LoopbackProvider) Terminate(ctx context.Context, legID string) error {
	return p.record(Command{Op: "terminate", LegID: legID})
}

func (p *LoopbackProvider) Bridge(ctx context.Context, legID, deviceIdentity string) error {
	return p.record(Command{Op: "bridge", LegID: legID, Target: deviceIdentity})
}

func (p *LoopbackProvider) Hold(ctx context.Context, legID string) error {
	return p.record(Command{Op: "hold", LegID: legID})
}

func (p *LoopbackProvider) Resume(ctx context.Context, legID, deviceIdentity string) error {
	return p.record(Command{Op: "resume", LegID: legID, Target: deviceIdentity})
}

func (p *LoopbackProvider) DropVoicemail(ctx context.Context, legID, mediaURL string) error {
	return p.record(Command{Op: "voicemail", LegID: legID, Target: mediaURL})
}

func (p *LoopbackProvider) record(c Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, c)
	return p.failure(c.Op)
}

func (p *LoopbackProvider) failure(op string) error {
	q := p.failures[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	p.failures[op] = q[1:]
	return err
}
