// Package recommend suggests the likely next outcome for a lead from its call history.
// It is display-only and never fails: sparse input degrades to a low-confidence default.
package recommend

import (
	"fmt"
	"math"
	"sort"
	"time"

	"power-dialer/internal/disposition"
	"power-dialer/internal/leads"
)

// Outcome values mirror disposition outcomes plus "no_history".
const (
	OutcomeNoHistory  = "no_history"
	OutcomeCallback   = "callback"
	OutcomeVoicemail  = "voicemail"
	OutcomeInterested = "interested"
	OutcomeNoAnswer   = "no_answer"
)

const (
	halfLife           = 14 * 24 * time.Hour
	minConfidence      = 0.05
	maxConfidence      = 0.95
	noHistoryConfident = 0.1
	noAnswerStreak     = 3
)

// Attempt is one past outcome for the lead.
type Attempt struct {
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// Signals are engagement inputs beyond raw history.
type Signals struct {
	Temperature     leads.Temperature `json:"temperature"`
	EngagementScore int               `json:"engagement_score"`
	PendingCallback bool              `json:"pending_callback"`
}

type Recommendation struct {
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Recommend scores history (any order) as of now.
func Recommend(history []Attempt, sig Signals, now time.Time) Recommendation {
	if sig.PendingCallback {
		return Recommendation{
			Outcome:    OutcomeCallback,
			Confidence: 0.8,
			Rationale:  "lead has an outstanding callback",
		}
	}
	if len(history) == 0 {
		return Recommendation{Outcome: OutcomeNoHistory, Confidence: noHistoryConfident, Rationale: "no prior calls"}
	}

	sorted := append([]Attempt(nil), history...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].At.After(sorted[j].At) })

	if streak := leadingNoAnswers(sorted); streak >= noAnswerStreak {
		conf := clamp(0.5 + 0.05*float64(streak-noAnswerStreak))
		return Recommendation{
			Outcome:    OutcomeVoicemail,
			Confidence: conf,
			Rationale:  fmt.Sprintf("%d unanswered calls in a row, leave a voicemail or text", streak),
		}
	}

	weights := map[string]float64{}
	var total float64
	for _, a := range sorted {
		age := now.Sub(a.At)
		if age < 0 {
			age = 0
		}
		w := math.Pow(0.5, float64(age)/float64(halfLife))
		weights[a.Outcome] += w
		total += w
	}

	best, bestW := "", -1.0
	for outcome, w := range weights {
		if w > bestW || (w == bestW && outcome < best) {
			best, bestW = outcome, w
		}
	}

	conf := bestW / total
	// Few data points should not look certain.
	conf *= float64(len(sorted)) / float64(len(sorted)+2)
	conf += adjust(best, sig)

	return Recommendation{
		Outcome:    best,
		Confidence: round(clamp(conf)),
		Rationale:  fmt.Sprintf("%s in %.0f%% of recent calls", best, 100*bestW/total),
	}
}

func leadingNoAnswers(newestFirst []Attempt) int {
	var n int
	for _, a := range newestFirst {
		if a.Outcome != OutcomeNoAnswer {
			break
		}
		n++
	}
	return n
}

func adjust(outcome string, sig Signals) float64 {
	var d float64
	positive := outcome == OutcomeInterested
	switch sig.Temperature {
	case leads.TemperatureHot:
		if positive {
			d += 0.1
		} else {
			d -= 0.05
		}
	case leads.TemperatureCold:
		if positive {
			d -= 0.1
		} else {
			d += 0.05
		}
	}
	if sig.EngagementScore > 0 {
		e := math.Min(float64(sig.EngagementScore), 100) / 100
		if positive {
			d += 0.1 * e
		} else {
			d -= 0.05 * e
		}
	}
	return d
}

func clamp(v float64) float64 {
	return math.Max(minConfidence, math.Min(maxConfidence, v))
}

func round(v float64) float64 { return math.Round(v*100) / 100 }

// FromDispositions converts logged dispositions into attempts.
func FromDispositions(ds []disposition.Disposition) []Attempt {
	out := make([]Attempt, 0, len(ds))
	for _, d := range ds {
		out = append(out, Attempt{Outcome: string(d.Outcome), At: d.CreatedAt})
	}
	return out
}
