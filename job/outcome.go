package job

// OutcomeKind tags an Outcome
type OutcomeKind int

const (
	// OutcomeNone means no report was produced (job was not admitted)
	OutcomeNone OutcomeKind = iota
	OutcomeSuccess
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "none"
	}
}

// Outcome is the terminal result reported for a job
type Outcome struct {
	Kind         OutcomeKind
	ErrorCode    string
	ErrorMessage string
}

// Succeeded returns a success outcome
func Succeeded() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Failed returns a failure outcome
func Failed(code, message string) Outcome {
	return Outcome{Kind: OutcomeFailure, ErrorCode: code, ErrorMessage: message}
}

// IsSuccess reports whether the outcome is a success
func (o Outcome) IsSuccess() bool {
	return o.Kind == OutcomeSuccess
}
