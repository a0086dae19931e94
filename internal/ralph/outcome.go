package ralph

import "coddy/internal/store"

// Outcome is how a ralph loop ended.
type Outcome int

const (
	OutcomeUnknown       Outcome = iota
	OutcomeSuccess               // pull request opened
	OutcomeClarification         // agent or sufficiency check asked a question
	OutcomeExhausted             // iteration budget used up
	OutcomeFailure               // branch or pull request could not be created
	OutcomeClosed                // issue closed while the loop was running
)

var outcomeNames = map[Outcome]string{
	OutcomeSuccess:       "success",
	OutcomeClarification: "clarification",
	OutcomeExhausted:     "exhausted",
	OutcomeFailure:       "failure",
	OutcomeClosed:        "closed",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// ParseOutcome is the inverse of String.
func ParseOutcome(s string) (Outcome, error) {
	for o, name := range outcomeNames {
		if name == s {
			return o, nil
		}
	}
	return OutcomeUnknown, store.ParseEnumError("Outcome", s)
}

// MarshalJSON implements json.Marshaler.
func (o Outcome) MarshalJSON() ([]byte, error) { return store.MarshalEnumJSON(o) }

// UnmarshalJSON implements json.Unmarshaler.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	v, err := store.UnmarshalEnumJSON(data, ParseOutcome)
	if err != nil {
		return err
	}
	*o = v
	return nil
}
