package escalate

// State is a step of the per-call escalation state machine.
type State int

const (
	NotEvaluated State = iota
	ExactChecked
	DescriptorChecked
	FuzzyChecked
	SemanticChecked
	Resolved
)

// tierStates lists the states reached by running each tier, cheapest first.
var tierStates = []State{ExactChecked, DescriptorChecked, FuzzyChecked, SemanticChecked}

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case NotEvaluated:
		return "not_evaluated"
	case ExactChecked:
		return "exact_checked"
	case DescriptorChecked:
		return "descriptor_checked"
	case FuzzyChecked:
		return "fuzzy_checked"
	case SemanticChecked:
		return "semantic_checked"
	case Resolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// next returns the state that follows s. Resolved is terminal.
func next(s State) State {
	if s >= SemanticChecked {
		return Resolved
	}
	return s + 1
}
