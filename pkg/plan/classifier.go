// Package plan turns free-text objectives into tasks and routes tasks onto
// execution lanes. Classification is a pure function over a closed keyword
// vocabulary: identical objectives always produce identical plans.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// MaxObjectiveLen bounds accepted objective text.
const MaxObjectiveLen = 2000

// MaxSubgoals is the hard cap on decomposition width, single level deep.
const MaxSubgoals = 4

// ErrInputRejected means the objective cannot become a mission.
var ErrInputRejected = errors.New("objective rejected")

// Subgoal is one decomposed fragment of a composite objective.
type Subgoal struct {
	Objective  string
	Kind       models.KindHint
	ActionKind string
}

// Classification is the decomposer's verdict on one objective.
type Classification struct {
	IsComposite bool
	Domain      models.Domain
	Subgoals    []Subgoal

	// Confidence reflects how well the closed vocabulary matched. Low
	// confidence sends the mission to CLARIFICATION_NEEDED instead of the
	// queue.
	Confidence float64
}

// domainKeywords maps vocabulary fragments to classification domains. First
// match in listed order wins; order is fixed so classification stays pure.
var domainKeywords = []struct {
	domain models.Domain
	words  []string
}{
	{models.DomainMarketing, []string{
		"marketing", "campaign", "brand", "advertis", "seo", "audience",
		"social media", "newsletter", "landing page",
	}},
	{models.DomainEngineering, []string{
		"deploy", "refactor", "codebase", "pipeline", "pull request",
		"bug", "regression", "build failure", "api endpoint",
	}},
	{models.DomainOperations, []string{
		"invoice", "payroll", "inventory", "onboard", "procurement",
		"expense", "vendor", "compliance",
	}},
	{models.DomainResearch, []string{
		"research", "extract", "summarize", "compare", "investigate",
		"find out", "survey", "competitor", "analyze", "title from",
	}},
}

// compositeTemplates maps composite markers to their subgoal shapes. The
// subgoal kinds also fix execution order through the dependency chain.
var compositeTemplates = []struct {
	marker string
	kinds  []models.KindHint
}{
	{"campaign", []models.KindHint{models.KindResearch, models.KindAnalysis, models.KindStrategy}},
	{"competitive landscape", []models.KindHint{models.KindResearch, models.KindAnalysis, models.KindSynthesis}},
	{"market analysis", []models.KindHint{models.KindResearch, models.KindAnalysis, models.KindSynthesis}},
	{"launch plan", []models.KindHint{models.KindResearch, models.KindStrategy}},
	{"end-to-end report", []models.KindHint{models.KindResearch, models.KindAnalysis, models.KindSynthesis}},
	{"full report", []models.KindHint{models.KindResearch, models.KindAnalysis, models.KindSynthesis}},
}

// actionKeywords maps objective fragments to the action kind of an atomic
// task. First match wins; the navigate fallback always applies.
var actionKeywords = []struct {
	word   string
	action string
}{
	{"screenshot", "web_screenshot"},
	{"extract", "web_extract"},
	{"publish", "content_publish"},
	{"submit", "form_submit"},
	{"api", "api_call"},
	{"analyze", "data_analyze"},
	{"compare", "data_analyze"},
	{"report", "report_compose"},
	{"summarize", "report_compose"},
	{"search", "web_search"},
	{"find", "web_search"},
	{"research", "web_search"},
	{"investigate", "web_search"},
}

// kindActions fixes the action kind each subgoal kind executes with.
var kindActions = map[models.KindHint]string{
	models.KindResearch:  "web_search",
	models.KindAnalysis:  "data_analyze",
	models.KindStrategy:  "report_compose",
	models.KindSynthesis: "report_compose",
	models.KindGeneral:   "web_navigate",
}

// Classify decomposes an objective. Pure: no I/O, no randomness, no clock.
func Classify(objective string) (*Classification, error) {
	trimmed := strings.TrimSpace(objective)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty objective", ErrInputRejected)
	}
	if len(trimmed) > MaxObjectiveLen {
		return nil, fmt.Errorf("%w: objective exceeds %d characters", ErrInputRejected, MaxObjectiveLen)
	}

	lowered := strings.ToLower(trimmed)
	domain, matched := classifyDomain(lowered)

	confidence := 0.9
	if !matched {
		confidence = 0.5
	}

	for _, tpl := range compositeTemplates {
		if !strings.Contains(lowered, tpl.marker) {
			continue
		}
		kinds := tpl.kinds
		if len(kinds) > MaxSubgoals {
			kinds = kinds[:MaxSubgoals]
		}
		subgoals := make([]Subgoal, 0, len(kinds))
		for _, kind := range kinds {
			subgoals = append(subgoals, Subgoal{
				Objective:  fmt.Sprintf("%s: %s", kind, trimmed),
				Kind:       kind,
				ActionKind: kindActions[kind],
			})
		}
		return &Classification{
			IsComposite: true,
			Domain:      domain,
			Subgoals:    subgoals,
			Confidence:  confidence,
		}, nil
	}

	return &Classification{
		Domain: domain,
		Subgoals: []Subgoal{{
			Objective:  trimmed,
			Kind:       models.KindGeneral,
			ActionKind: classifyAction(lowered),
		}},
		Confidence: confidence,
	}, nil
}

func classifyDomain(lowered string) (models.Domain, bool) {
	for _, group := range domainKeywords {
		for _, word := range group.words {
			if strings.Contains(lowered, word) {
				return group.domain, true
			}
		}
	}
	return models.DomainUnknown, false
}

func classifyAction(lowered string) string {
	for _, entry := range actionKeywords {
		if strings.Contains(lowered, entry.word) {
			return entry.action
		}
	}
	return "web_navigate"
}
