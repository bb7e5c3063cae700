package learning

import "time"

// historyLimit bounds the per-pattern attempt history.
const historyLimit = 20

// AttemptRecord is one entry of a pattern's bounded history.
type AttemptRecord struct {
	Outcome   Outcome   `json:"outcome"`
	Strategy  Strategy  `json:"strategy"`
	Timestamp time.Time `json:"timestamp"`
	File      string    `json:"file,omitempty"`
}

// ErrorPattern accumulates outcomes for one (tool, rule-code) pair.
// Invariant: Successes + Failures <= TotalAttempts; partial and skipped
// outcomes count toward TotalAttempts only.
type ErrorPattern struct {
	TotalAttempts        int             `json:"total_attempts"`
	Successes            int             `json:"successes"`
	Failures             int             `json:"failures"`
	History              []AttemptRecord `json:"history,omitempty"`
	SuccessfulStrategies []Strategy      `json:"successful_strategies,omitempty"`
	FailedStrategies     []Strategy      `json:"failed_strategies,omitempty"`
}

// SuccessRate returns successes over total attempts, zero when the
// pattern has no attempts.
func (p *ErrorPattern) SuccessRate() float64 {
	if p.TotalAttempts == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.TotalAttempts)
}

// recordAttempt updates counts, strategy sets, and history for one attempt.
func (p *ErrorPattern) recordAttempt(outcome Outcome, strategy Strategy, file string, now time.Time) {
	p.TotalAttempts++
	switch outcome {
	case OutcomeSuccess:
		p.Successes++
		p.SuccessfulStrategies = addStrategy(p.SuccessfulStrategies, strategy)
	case OutcomeFailure:
		p.Failures++
		p.FailedStrategies = addStrategy(p.FailedStrategies, strategy)
	}

	p.History = append(p.History, AttemptRecord{
		Outcome:   outcome,
		Strategy:  strategy,
		Timestamp: now,
		File:      file,
	})
	if len(p.History) > historyLimit {
		p.History = p.History[len(p.History)-historyLimit:]
	}
}

// mostSuccessfulStrategy returns the strategy with the most successful
// history entries, or "" when the pattern has never succeeded.
func (p *ErrorPattern) mostSuccessfulStrategy() Strategy {
	counts := make(map[Strategy]int)
	for _, rec := range p.History {
		if rec.Outcome == OutcomeSuccess {
			counts[rec.Strategy]++
		}
	}

	var best Strategy
	bestCount := 0
	for _, s := range ladder {
		if counts[s] > bestCount {
			best = s
			bestCount = counts[s]
		}
	}
	if best == "" && len(p.SuccessfulStrategies) > 0 {
		// History may have aged out; fall back to the persistent set.
		best = p.SuccessfulStrategies[0]
	}
	return best
}

func addStrategy(set []Strategy, s Strategy) []Strategy {
	for _, entry := range set {
		if entry == s {
			return set
		}
	}
	return append(set, s)
}

func containsStrategy(set []Strategy, s Strategy) bool {
	for _, entry := range set {
		if entry == s {
			return true
		}
	}
	return false
}

// LearningData is the persisted document. Aggregate totals equal the
// sums across patterns.
type LearningData struct {
	Version        string                   `json:"version"`
	Patterns       map[string]*ErrorPattern `json:"patterns"`
	TotalAttempts  int                      `json:"total_attempts"`
	TotalSuccesses int                      `json:"total_successes"`
	LastUpdated    time.Time                `json:"last_updated"`
}

// PatternSummary is one row of the statistics report.
type PatternSummary struct {
	Key         string
	Attempts    int
	SuccessRate float64
}

// Statistics is the overall summary returned by the mapper.
type Statistics struct {
	OverallSuccessRate float64
	TotalAttempts      int
	TotalSuccesses     int
	PatternCount       int
	MostDifficult      []PatternSummary
	MostSuccessful     []PatternSummary
}
