package domain

// Outcome is one side of a binary prediction market.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// Index maps the outcome to its position in Market.Outcomes/TokenIDs.
func (o Outcome) Index() int {
	if o == OutcomeNo {
		return 1
	}
	return 0
}

// Opposite returns the other side of the market.
func (o Outcome) Opposite() Outcome {
	if o == OutcomeYes {
		return OutcomeNo
	}
	return OutcomeYes
}
