package queue

import (
	"context"
	"errors"
	"sort"
	"time"

	"power-dialer/internal/disposition"
	"power-dialer/internal/leads"
)

// LeadSource lists the leads assigned to a rep.
type LeadSource interface {
	ListAssigned(ctx context.Context, repID string) ([]leads.Lead, error)
}

// CallbackSource lists pending callbacks for a set of leads.
type CallbackSource interface {
	ListPendingForLeads(ctx context.Context, leadIDs []string) ([]disposition.Callback, error)
}

// Entry is one dialable lead.
type Entry struct {
	Lead        leads.Lead        `json:"lead"`
	Priority    leads.Priority    `json:"priority"`
	Temperature leads.Temperature `json:"temperature"`
	// LastContactedAgo is zero for leads never contacted.
	LastContactedAgo time.Duration `json:"last_contacted_ago"`
	CallbackDue      bool          `json:"callback_due"`
	CallbackID       string        `json:"callback_id,omitempty"`
}

// Queue is a rep's ordered call list at BuiltAt.
type Queue struct {
	RepID        string                 `json:"rep_id"`
	Entries      []Entry                `json:"entries"`
	CallbacksDue []disposition.Callback `json:"callbacks_due"`
	// Upcoming holds pending callbacks scheduled after BuiltAt; their leads are not in Entries.
	Upcoming []disposition.Callback `json:"upcoming"`
	BuiltAt  time.Time              `json:"built_at"`
}

// Builder derives queues from the lead and callback stores. It keeps no state.
type Builder struct {
	Leads     LeadSource
	Callbacks CallbackSource
}

func NewBuilder(leadSrc LeadSource, callbacks CallbackSource) *Builder {
	return &Builder{Leads: leadSrc, Callbacks: callbacks}
}

func (b *Builder) Build(ctx context.Context, repID string, now time.Time) (Queue, error) {
	if repID == "" {
		return Queue{}, errors.New("queue: rep_id required")
	}
	assigned, err := b.Leads.ListAssigned(ctx, repID)
	if err != nil {
		return Queue{}, err
	}

	var candidates []leads.Lead
	ids := make([]string, 0, len(assigned))
	for _, l := range assigned {
		if l.DoNotContact || l.Status.Closed() {
			continue
		}
		candidates = append(candidates, l)
		ids = append(ids, l.ID)
	}

	pending, err := b.Callbacks.ListPendingForLeads(ctx, ids)
	if err != nil {
		return Queue{}, err
	}
	due := map[string]disposition.Callback{}
	future := map[string]bool{}
	q := Queue{RepID: repID, BuiltAt: now}
	for _, cb := range pending {
		if cb.Due(now) {
			due[cb.LeadID] = cb
			q.CallbacksDue = append(q.CallbacksDue, cb)
			continue
		}
		future[cb.LeadID] = true
		q.Upcoming = append(q.Upcoming, cb)
	}

	for _, l := range candidates {
		if future[l.ID] {
			continue
		}
		e := Entry{Lead: l, Priority: l.Priority, Temperature: l.Temperature}
		if l.LastContactedAt != nil {
			e.LastContactedAgo = now.Sub(*l.LastContactedAt)
		}
		if cb, ok := due[l.ID]; ok {
			e.CallbackDue = true
			e.CallbackID = cb.ID
		}
		q.Entries = append(q.Entries, e)
	}

	sort.SliceStable(q.Entries, func(i, j int) bool { return less(q.Entries[i].Lead, q.Entries[j].Lead) })
	sort.Slice(q.CallbacksDue, func(i, j int) bool { return q.CallbacksDue[i].ScheduledAt.Before(q.CallbacksDue[j].ScheduledAt) })
	sort.Slice(q.Upcoming, func(i, j int) bool { return q.Upcoming[i].ScheduledAt.Before(q.Upcoming[j].ScheduledAt) })
	return q, nil
}

func less(a, b leads.Lead) bool {
	if pa, pb := a.Priority.Rank(), b.Priority.Rank(); pa != pb {
		return pa < pb
	}
	if ta, tb := a.Temperature.Rank(), b.Temperature.Rank(); ta != tb {
		return ta < tb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
