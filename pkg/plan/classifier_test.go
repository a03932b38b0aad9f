package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

func TestClassify_AtomicExtract(t *testing.T) {
	c, err := Classify("Extract title from https://example.com")
	require.NoError(t, err)

	assert.False(t, c.IsComposite)
	assert.Equal(t, models.DomainResearch, c.Domain)
	require.Len(t, c.Subgoals, 1)
	assert.Equal(t, "web_extract", c.Subgoals[0].ActionKind)
	assert.Equal(t, models.KindGeneral, c.Subgoals[0].Kind)
	assert.InDelta(t, 0.9, c.Confidence, 0.001)
}

func TestClassify_MarketingCampaignThreeSubgoals(t *testing.T) {
	c, err := Classify("Design a marketing campaign for quantum computing startups")
	require.NoError(t, err)

	assert.True(t, c.IsComposite)
	assert.Equal(t, models.DomainMarketing, c.Domain)
	require.Len(t, c.Subgoals, 3)
	assert.Equal(t, models.KindResearch, c.Subgoals[0].Kind)
	assert.Equal(t, models.KindAnalysis, c.Subgoals[1].Kind)
	assert.Equal(t, models.KindStrategy, c.Subgoals[2].Kind)
	for _, sg := range c.Subgoals {
		assert.NotEmpty(t, sg.ActionKind)
		assert.Contains(t, sg.Objective, "quantum computing")
	}
}

func TestClassify_IsDeterministic(t *testing.T) {
	first, err := Classify("Prepare a competitive landscape for B2B analytics vendors")
	require.NoError(t, err)
	second, err := Classify("Prepare a competitive landscape for B2B analytics vendors")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestClassify_UnknownDomainLowConfidence(t *testing.T) {
	c, err := Classify("Do the thing with the stuff")
	require.NoError(t, err)
	assert.Equal(t, models.DomainUnknown, c.Domain)
	assert.InDelta(t, 0.5, c.Confidence, 0.001)
}

func TestClassify_RejectsEmptyAndOversized(t *testing.T) {
	_, err := Classify("   ")
	assert.ErrorIs(t, err, ErrInputRejected)

	_, err = Classify(strings.Repeat("x", MaxObjectiveLen+1))
	assert.ErrorIs(t, err, ErrInputRejected)
}

func TestClassify_SubgoalCapHolds(t *testing.T) {
	for _, tpl := range compositeTemplates {
		assert.LessOrEqual(t, len(tpl.kinds), MaxSubgoals, "template %q", tpl.marker)
	}
}

func TestClassify_ActionKeywordPrecedence(t *testing.T) {
	cases := []struct {
		objective string
		action    string
	}{
		{"Take a screenshot of https://example.com", "web_screenshot"},
		{"Publish the launch announcement to the blog", "content_publish"},
		{"Submit the signup form on the beta page", "form_submit"},
		{"Call the billing api for the usage export", "api_call"},
		{"Analyze last month's churn numbers", "data_analyze"},
		{"Search for recent funding announcements", "web_search"},
		{"Open https://example.com", "web_navigate"},
	}
	for _, tc := range cases {
		c, err := Classify(tc.objective)
		require.NoError(t, err, tc.objective)
		require.Len(t, c.Subgoals, 1, tc.objective)
		assert.Equal(t, tc.action, c.Subgoals[0].ActionKind, tc.objective)
	}
}
