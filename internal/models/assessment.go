package models

import "time"

// CDR is a Clinical Dementia Rating style severity label
type CDR string

const (
	CDR0  CDR = "CDR 0"
	CDR05 CDR = "CDR 0.5"
	CDR1  CDR = "CDR 1"
	CDR2  CDR = "CDR 2"
	CDR3  CDR = "CDR 3"
)

// Description returns the Korean severity wording used in reports.
func (c CDR) Description() string {
	switch c {
	case CDR0:
		return "정상"
	case CDR05:
		return "최경도 인지저하 의심"
	case CDR1:
		return "경도 치매 의심"
	case CDR2:
		return "중등도 치매 의심"
	case CDR3:
		return "중증 치매 의심"
	default:
		return "판정 불가"
	}
}

// Assessment sources
const (
	SourceHeuristic = "heuristic"
	SourceLLM       = "llm"
)

// Assessment is computed from a transcript and never stored on its own
type Assessment struct {
	MemoryScore        float64  `json:"memory_score"`
	OrientationScore   float64  `json:"orientation_score"`
	LanguageScore      float64  `json:"language_score"`
	AverageScore       float64  `json:"average_score"`
	CDR                CDR      `json:"cdr"`
	BehavioralSymptoms []string `json:"behavioral_symptoms"`
	RiskFactors        []string `json:"risk_factors"`
	ClinicalInsight    string   `json:"clinical_insight"`
	Source             string   `json:"source"`
}

// Report is a persisted end-of-session assessment
type Report struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	CreatedAt    time.Time  `json:"created_at"`
	MessageCount int        `json:"message_count"`
	Assessment   Assessment `json:"assessment"`
	Summary      string     `json:"summary"`
}
