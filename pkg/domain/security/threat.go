package security

type Recommendation string

const (
	RecommendAllow     Recommendation = "allow"
	RecommendChallenge Recommendation = "challenge"
	RecommendBlock     Recommendation = "block"
)

type ThreatFactor struct {
	Name        string `json:"name"`
	Weight      int    `json:"weight"`
	Description string `json:"description"`
}

// ThreatScore is the pattern analyzer output.
type ThreatScore struct {
	Score          int            `json:"score"`
	Factors        []ThreatFactor `json:"factors"`
	Recommendation Recommendation `json:"recommendation"`
}

func (s *ThreatScore) Factor(name string) (ThreatFactor, bool) {
	for _, f := range s.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return ThreatFactor{}, false
}

type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

type ThreatIndicator struct {
	Type        string  `json:"type"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

type ThreatAnalysis struct {
	Pattern         *ThreatScore      `json:"pattern"`
	Indicators      []ThreatIndicator `json:"indicators"`
	Confidence      float64           `json:"confidence"`
	Level           ThreatLevel       `json:"level"`
	ShouldBlock     bool              `json:"should_block"`
	ShouldChallenge bool              `json:"should_challenge"`
	ShouldAlert     bool              `json:"should_alert"`
	Recommendations []string          `json:"recommendations"`
}

func (a *ThreatAnalysis) HasIndicator(kind string) bool {
	for _, i := range a.Indicators {
		if i.Type == kind {
			return true
		}
	}
	return false
}
