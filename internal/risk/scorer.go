// Package risk scores incoming alerts so records that arrive without a
// severity can still be routed through the rule table.
package risk

// Input carries the alert attributes that feed the score.
type Input struct {
	ThreatType string
	Severity   string
	Confidence string
}

// Assessment is the scoring outcome: a score in [0,1] and the category it
// maps to.
type Assessment struct {
	Score    float64 `json:"score"`
	Category string  `json:"category"`
}

// severityFactors weights the reported severity. Unknown values score like
// an informational event.
var severityFactors = map[string]float64{
	"critical": 1.0,
	"high":     0.8,
	"medium":   0.5,
	"low":      0.2,
	"info":     0.1,
}

var confidenceFactors = map[string]float64{
	"high":   1.0,
	"medium": 0.6,
	"low":    0.3,
}

var threatFactors = map[string]float64{
	"malware":             1.0,
	"phishing":            0.9,
	"brute_force":         0.8,
	"data_exfiltration":   0.95,
	"unauthorized_access": 0.85,
	"suspicious_activity": 0.7,
}

// thresholds maps scores to categories, checked highest first.
var thresholds = []struct {
	category string
	min      float64
}{
	{"critical", 0.8},
	{"high", 0.6},
	{"medium", 0.4},
	{"low", 0.0},
}

// Scorer assesses alert risk. The engine treats it as pluggable so a
// deployment can swap in model-backed scoring.
type Scorer interface {
	Score(in Input) Assessment
}

// WeightedScorer is the default scorer: a fixed-weight combination of
// severity, confidence and threat type factors.
type WeightedScorer struct{}

// NewWeightedScorer returns the default scorer.
func NewWeightedScorer() *WeightedScorer {
	return &WeightedScorer{}
}

// Score combines the factor weights 0.4/0.3/0.3 and maps the result onto a
// category. Deterministic for identical inputs.
func (s *WeightedScorer) Score(in Input) Assessment {
	severity, ok := severityFactors[in.Severity]
	if !ok {
		severity = 0.1
	}
	confidence, ok := confidenceFactors[in.Confidence]
	if !ok {
		confidence = 0.3
	}
	threat, ok := threatFactors[in.ThreatType]
	if !ok {
		threat = 0.5
	}

	score := severity*0.4 + confidence*0.3 + threat*0.3
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}

	return Assessment{Score: score, Category: Categorize(score)}
}

// Categorize maps a score in [0,1] to a severity category.
func Categorize(score float64) string {
	for _, t := range thresholds {
		if score >= t.min {
			return t.category
		}
	}
	return "low"
}
