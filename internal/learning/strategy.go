package learning

// Strategy is one rung of the prompting-verbosity ladder. The ordinal
// position drives both selection and escalation.
type Strategy string

const (
	// StrategyMinimal is the tersest prompt: findings only
	StrategyMinimal Strategy = "minimal"

	// StrategyNormal adds the surrounding file context
	StrategyNormal Strategy = "normal"

	// StrategyDetailed adds rule advice and worked examples
	StrategyDetailed Strategy = "detailed"

	// StrategyVerbose adds prior-attempt history on top of everything else
	StrategyVerbose Strategy = "verbose"
)

// ladder is the closed strategy set in escalation order.
var ladder = []Strategy{StrategyMinimal, StrategyNormal, StrategyDetailed, StrategyVerbose}

// rank returns the ladder position of s, or -1 for an unknown strategy.
func (s Strategy) rank() int {
	for i, entry := range ladder {
		if entry == s {
			return i
		}
	}
	return -1
}

// escalate walks steps rungs up the ladder from base, capped at the top.
func escalate(base Strategy, steps int) Strategy {
	i := base.rank()
	if i < 0 {
		i = StrategyNormal.rank()
	}
	i += steps
	if i >= len(ladder) {
		i = len(ladder) - 1
	}
	return ladder[i]
}

// Outcome classifies one fixing attempt for a (tool, code) pattern.
type Outcome string

const (
	// OutcomeSuccess means the finding was verified fixed
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the finding remained after the attempt
	OutcomeFailure Outcome = "failure"

	// OutcomePartial means some but not all findings for the code were
	// fixed; counted toward total attempts only
	OutcomePartial Outcome = "partial"

	// OutcomeSkipped means the attempt never ran; counted toward total
	// attempts only
	OutcomeSkipped Outcome = "skipped"
)

// AdaptiveStrategy is the mapper's recommendation for the next prompt.
type AdaptiveStrategy struct {
	// Verbosity is the recommended ladder rung
	Verbosity Strategy

	// IncludeExamples recommends embedding worked fix examples
	IncludeExamples bool

	// IncludeHistory recommends embedding prior-attempt history
	IncludeHistory bool

	// SuggestedApproach is an optional one-line hint derived from the
	// pattern's most frequently successful strategy
	SuggestedApproach string
}
