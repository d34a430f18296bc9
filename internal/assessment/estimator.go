// Package assessment derives heuristic cognitive scores from a conversation transcript.
//
// The rules are literal keyword and length checks over the user's messages.
// They produce a CDR-like label for caregivers and are not a validated
// clinical instrument.
package assessment

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/carebot/internal/models"
)

const (
	minScore  = 1.0
	maxScore  = 5.0
	baseScore = 3.0

	NoSymptoms    = "특이사항 없음"
	NoRiskFactors = "특별한 위험 요인 없음"

	SymptomAnxiety    = "불안"
	SymptomDepression = "우울"
	SymptomApathy     = "무감동"

	RiskLanguageDecline  = "언어 능력 저하"
	RiskMemoryDecline    = "기억력 저하"
	RiskLowParticipation = "대화 참여도 저조"
)

var (
	confusionMarkers  = []string{"기억", "모르겠", "잊었", "헷갈"}
	timeKeywords      = []string{"오늘", "어제", "내일", "지금", "요즘"}
	placeKeywords     = []string{"집", "병원", "여기", "거기"}
	complexConnectors = []string{"그런데", "하지만", "그래서"}

	symptomKeywords = []struct {
		label    string
		keywords []string
	}{
		{SymptomAnxiety, []string{"불안", "걱정", "무서", "초조"}},
		{SymptomDepression, []string{"우울", "슬퍼", "슬프", "외로", "죽고"}},
		{SymptomApathy, []string{"귀찮", "의욕", "하기 싫", "관심 없"}},
	}
)

type Estimator struct{}

func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate scores the transcript. The result depends only on the messages.
func (e *Estimator) Estimate(messages []models.Message) models.Assessment {
	memory := e.MemoryScore(messages)
	orientation := e.OrientationScore(messages)
	language := e.LanguageScore(messages)
	avg := Average(memory, orientation, language)
	cdr := ClassifyCDR(avg)

	return models.Assessment{
		MemoryScore:        memory,
		OrientationScore:   orientation,
		LanguageScore:      language,
		AverageScore:       avg,
		CDR:                cdr,
		BehavioralSymptoms: e.BehavioralSymptoms(messages),
		RiskFactors:        e.RiskFactors(messages),
		ClinicalInsight:    e.ClinicalInsight(messages, cdr),
		Source:             models.SourceHeuristic,
	}
}

func userContents(messages []models.Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == models.RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

// meanLength returns the mean rune count; ok is false when there is nothing to average
func meanLength(texts []string) (mean float64, ok bool) {
	if len(texts) == 0 {
		return 0, false
	}
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	return float64(total) / float64(len(texts)), true
}

func meanWords(texts []string) (mean float64, ok bool) {
	if len(texts) == 0 {
		return 0, false
	}
	total := 0
	for _, t := range texts {
		total += len(strings.Fields(t))
	}
	return float64(total) / float64(len(texts)), true
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func countContaining(texts []string, keywords []string) int {
	n := 0
	for _, t := range texts {
		if containsAny(t, keywords) {
			n++
		}
	}
	return n
}

func anyContains(texts []string, keywords []string) bool {
	return countContaining(texts, keywords) > 0
}

func clamp(score float64) float64 {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

func (e *Estimator) MemoryScore(messages []models.Message) float64 {
	texts := userContents(messages)
	score := baseScore

	if mean, ok := meanLength(texts); ok {
		if mean > 20 {
			score++
		}
		if mean < 5 {
			score--
		}
	}
	if float64(countContaining(texts, confusionMarkers)) > float64(len(texts))/2 {
		score--
	}
	return clamp(score)
}

// OrientationScore moves in half steps, unlike the other two scores
func (e *Estimator) OrientationScore(messages []models.Message) float64 {
	texts := userContents(messages)
	score := baseScore

	if anyContains(texts, timeKeywords) {
		score += 0.5
	}
	if anyContains(texts, placeKeywords) {
		score += 0.5
	}
	return clamp(score)
}

func (e *Estimator) LanguageScore(messages []models.Message) float64 {
	texts := userContents(messages)
	score := baseScore

	if mean, ok := meanWords(texts); ok {
		if mean > 10 {
			score++
		}
		if mean < 3 {
			score--
		}
	}
	if anyContains(texts, complexConnectors) {
		score += 0.5
	}
	return clamp(score)
}

func Average(memory, orientation, language float64) float64 {
	return (memory + orientation + language) / 3
}

// ClassifyCDR maps the average score to a label. Lower bounds are inclusive.
func ClassifyCDR(avg float64) models.CDR {
	switch {
	case avg >= 4.5:
		return models.CDR0
	case avg >= 3.5:
		return models.CDR05
	case avg >= 2.5:
		return models.CDR1
	case avg >= 1.5:
		return models.CDR2
	default:
		return models.CDR3
	}
}

// BehavioralSymptoms returns every matched symptom label, or NoSymptoms
func (e *Estimator) BehavioralSymptoms(messages []models.Message) []string {
	texts := userContents(messages)
	var symptoms []string
	for _, s := range symptomKeywords {
		if anyContains(texts, s.keywords) {
			symptoms = append(symptoms, s.label)
		}
	}
	if len(symptoms) == 0 {
		return []string{NoSymptoms}
	}
	return symptoms
}

// RiskFactors returns every triggered risk factor, or NoRiskFactors
func (e *Estimator) RiskFactors(messages []models.Message) []string {
	texts := userContents(messages)
	var risks []string

	if mean, ok := meanLength(texts); ok && mean < 5 {
		risks = append(risks, RiskLanguageDecline)
	}
	if float64(countContaining(texts, confusionMarkers)) > float64(len(texts))/3 {
		risks = append(risks, RiskMemoryDecline)
	}
	if float64(len(texts)) < float64(len(messages))/3 {
		risks = append(risks, RiskLowParticipation)
	}

	if len(risks) == 0 {
		return []string{NoRiskFactors}
	}
	return risks
}

// ClinicalInsight composes the interpretive sentence for a report.
// The clause is chosen by exact label equality.
func (e *Estimator) ClinicalInsight(messages []models.Message, cdr models.CDR) string {
	fluency := "일상적인 수준의"
	if mean, ok := meanWords(userContents(messages)); ok {
		switch {
		case mean > 10:
			fluency = "풍부하고 유창한"
		case mean < 3:
			fluency = "짧고 단순한"
		}
	}

	var interpretation string
	switch cdr {
	case models.CDR0:
		interpretation = "전반적인 인지 기능은 정상 범위로 보입니다."
	case models.CDR05:
		interpretation = "경미한 인지 저하 가능성이 있어 정기적인 관찰을 권장합니다."
	case models.CDR1:
		interpretation = "경도의 인지 저하 소견이 있어 전문의 상담을 권장합니다."
	default:
		interpretation = "인지 기능 저하가 뚜렷하여 전문적인 평가와 돌봄 계획이 필요합니다."
	}

	return fmt.Sprintf("총 %d개의 대화 메시지에서 %s 언어 표현을 보였습니다. %s",
		len(messages), fluency, interpretation)
}
