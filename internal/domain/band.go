package domain

// RiskBand maps a prediction onto a categorical risk label via a CEL
// guard expression. Bands are evaluated in order; the first band whose
// guard holds wins.
type RiskBand struct {
	Category string `json:"category"`

	// Guard is a CEL boolean expression over the variables
	// probability (double), predicted (bool), and amount (double).
	Guard string `json:"guard"`
}

// DefaultRiskBands is the default thresholding table used when a scoring
// client does not supply its own risk category.
func DefaultRiskBands() []RiskBand {
	return []RiskBand{
		{Category: "High", Guard: "probability >= 0.7"},
		{Category: "Medium", Guard: "probability >= 0.3"},
		{Category: "Low", Guard: "true"},
	}
}
