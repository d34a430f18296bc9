// Package guidance maps user input to canned conversation guidance for the LLM prompt.
// The table is static: it is embedded at build time and never mutated.
package guidance

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xaenox/carebot/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed guidance.yaml
var defaultTable []byte

// MaxSections caps how many matched sections are rendered
const MaxSections = 3

type Stage string

const (
	StageInitial      Stage = "initial"
	StageConversation Stage = "conversation"
	StageReminiscence Stage = "reminiscence"
	StageClosure      Stage = "closure"
)

type Entry struct {
	Section  string   `yaml:"section" json:"section"`
	Phrases  []string `yaml:"phrases" json:"phrases"`
	Priority int      `yaml:"priority" json:"priority"`
}

type Trigger struct {
	Keyword string  `yaml:"keyword"`
	Entries []Entry `yaml:"entries"`
}

type Table struct {
	BasicAttitude      []string         `yaml:"basic_attitude"`
	EncouragingPhrases []string         `yaml:"encouraging_phrases"`
	Triggers           []Trigger        `yaml:"triggers"`
	Stages             map[Stage]string `yaml:"stages"`
}

type Retriever struct {
	table Table
}

// Load parses the embedded guidance table
func Load() (*Retriever, error) {
	table, err := ParseTable(defaultTable)
	if err != nil {
		return nil, err
	}
	return New(table), nil
}

func ParseTable(data []byte) (Table, error) {
	var table Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return Table{}, fmt.Errorf("failed to parse guidance table: %w", err)
	}
	for i, tr := range table.Triggers {
		table.Triggers[i].Keyword = strings.ToLower(strings.TrimSpace(tr.Keyword))
		if table.Triggers[i].Keyword == "" {
			return Table{}, fmt.Errorf("guidance trigger %d has no keyword", i)
		}
	}
	return table, nil
}

func New(table Table) *Retriever {
	return &Retriever{table: table}
}

// MatchedEntries returns at most MaxSections entries whose trigger occurs in the input,
// lowest priority number first. Entries of equal priority keep table order.
func (r *Retriever) MatchedEntries(userInput string) []Entry {
	lower := strings.ToLower(userInput)

	var collected []Entry
	for _, tr := range r.table.Triggers {
		if strings.Contains(lower, tr.Keyword) {
			collected = append(collected, tr.Entries...)
		}
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].Priority < collected[j].Priority
	})
	if len(collected) > MaxSections {
		collected = collected[:MaxSections]
	}
	return collected
}

// MatchedTriggers returns the sorted, distinct trigger keywords found in the input
func (r *Retriever) MatchedTriggers(userInput string) []string {
	lower := strings.ToLower(userInput)
	seen := make(map[string]struct{})
	var out []string
	for _, tr := range r.table.Triggers {
		if _, ok := seen[tr.Keyword]; ok {
			continue
		}
		if strings.Contains(lower, tr.Keyword) {
			seen[tr.Keyword] = struct{}{}
			out = append(out, tr.Keyword)
		}
	}
	sort.Strings(out)
	return out
}

// Retrieve renders the prompt fragment for the input
func (r *Retriever) Retrieve(userInput string) string {
	var b strings.Builder

	b.WriteString("[기본 태도]\n")
	for _, p := range r.table.BasicAttitude {
		b.WriteString("- " + p + "\n")
	}

	for _, e := range r.MatchedEntries(userInput) {
		b.WriteString("\n[상황별 가이드: " + e.Section + "]\n")
		for _, p := range e.Phrases {
			b.WriteString("- " + p + "\n")
		}
	}

	b.WriteString("\n[격려 표현 예시]\n")
	for _, p := range r.table.EncouragingPhrases {
		b.WriteString("- " + p + "\n")
	}

	return b.String()
}

// Stage returns the fixed guidance block for a conversation stage
func (r *Retriever) Stage(stage Stage) (string, error) {
	text, ok := r.table.Stages[stage]
	if !ok {
		return "", models.NewValidationError("stage", fmt.Sprintf("unknown stage %q", stage))
	}
	return text, nil
}
