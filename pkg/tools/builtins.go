package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/pathfind-io/pathfinder/pkg/models"
)

// Conflict classes group action kinds for the scheduler's conflict table.
const (
	ConflictBrowse  = "browse"
	ConflictMutate  = "mutate"
	ConflictAPI     = "api"
	ConflictPublish = "publish"
	ConflictCompute = "compute"
)

// maxResponseBytes caps how much of an api_call response body is retained.
const maxResponseBytes = 64 * 1024

func builtins() []*Definition {
	return []*Definition{
		{
			ActionKind:    "web_navigate",
			RiskLevel:     models.RiskLow,
			ConflictClass: ConflictBrowse,
			invoke:        invokeWebNavigate,
		},
		{
			ActionKind:    "web_extract",
			RiskLevel:     models.RiskLow,
			ConflictClass: ConflictBrowse,
			invoke:        invokeWebExtract,
		},
		{
			ActionKind:    "web_search",
			RiskLevel:     models.RiskLow,
			ConflictClass: ConflictBrowse,
			invoke:        invokeWebSearch,
		},
		{
			ActionKind:    "web_screenshot",
			RiskLevel:     models.RiskLow,
			ConflictClass: ConflictBrowse,
			invoke:        invokeWebScreenshot,
		},
		{
			ActionKind:    "form_submit",
			RiskLevel:     models.RiskHigh,
			ConflictClass: ConflictMutate,
			invoke:        invokeFormSubmit,
		},
		{
			ActionKind:    "api_call",
			RiskLevel:     models.RiskMedium,
			RequiresAPI:   true,
			ConflictClass: ConflictAPI,
			invoke:        invokeAPICall,
		},
		{
			ActionKind:    "content_publish",
			RiskLevel:     models.RiskHigh,
			Reversible:    true,
			ConflictClass: ConflictPublish,
			invoke:        invokeContentPublish,
			reverse:       reverseContentPublish,
		},
		{
			ActionKind:    "data_analyze",
			RiskLevel:     models.RiskLow,
			ConflictClass: ConflictCompute,
			invoke:        invokeDataAnalyze,
		},
		{
			ActionKind:    "report_compose",
			RiskLevel:     models.RiskLow,
			ConflictClass: ConflictCompute,
			invoke:        invokeReportCompose,
		},
	}
}

func invokeWebNavigate(ctx context.Context, inv *Invocation) *models.Outcome {
	url, out := requireString(inv, "url")
	if out != nil {
		return out
	}
	if inv.Mode == models.ModeMock {
		return mockOutcome("web_navigate", inv.Params, map[string]any{
			"url":   url,
			"title": "Mock page: " + url,
		})
	}
	browser, out := requireBrowser(inv)
	if out != nil {
		return out
	}
	title, err := browser.Navigate(ctx, url)
	if err != nil {
		return browserFailure("navigate", err)
	}
	return models.OutcomeOf(map[string]any{"url": url, "title": title})
}

func invokeWebExtract(ctx context.Context, inv *Invocation) *models.Outcome {
	url, out := requireString(inv, "url")
	if out != nil {
		return out
	}
	selector := stringParam(inv.Params, "selector", "body")
	if inv.Mode == models.ModeMock {
		return mockOutcome("web_extract", inv.Params, map[string]any{
			"url":      url,
			"selector": selector,
			"text":     fmt.Sprintf("Mock extraction of %q from %s", selector, url),
		})
	}
	browser, out := requireBrowser(inv)
	if out != nil {
		return out
	}
	text, err := browser.Extract(ctx, url, selector)
	if err != nil {
		return browserFailure("extract", err)
	}
	return models.OutcomeOf(map[string]any{"url": url, "selector": selector, "text": text})
}

func invokeWebSearch(ctx context.Context, inv *Invocation) *models.Outcome {
	query, out := requireString(inv, "query")
	if out != nil {
		return out
	}
	if inv.Mode == models.ModeMock {
		return mockOutcome("web_search", inv.Params, map[string]any{
			"query":   query,
			"results": mockSearchResults(query),
		})
	}
	browser, out := requireBrowser(inv)
	if out != nil {
		return out
	}
	searchURL := stringParam(inv.Params, "engine_url", "https://duckduckgo.com/html/?q=") + query
	text, err := browser.Extract(ctx, searchURL, stringParam(inv.Params, "selector", ".result"))
	if err != nil {
		return browserFailure("search", err)
	}
	return models.OutcomeOf(map[string]any{"query": query, "results": text})
}

func invokeWebScreenshot(ctx context.Context, inv *Invocation) *models.Outcome {
	url, out := requireString(inv, "url")
	if out != nil {
		return out
	}
	if inv.Mode == models.ModeMock {
		return mockOutcome("web_screenshot", inv.Params, map[string]any{
			"url":          url,
			"content_type": "image/png",
			"bytes":        0,
		})
	}
	browser, out := requireBrowser(inv)
	if out != nil {
		return out
	}
	png, err := browser.Screenshot(ctx, url)
	if err != nil {
		return browserFailure("screenshot", err)
	}
	o := models.OutcomeOf(map[string]any{
		"url":          url,
		"content_type": "image/png",
		"bytes":        len(png),
	})
	o.Result["data"] = png
	return o
}

func invokeFormSubmit(ctx context.Context, inv *Invocation) *models.Outcome {
	url, out := requireString(inv, "url")
	if out != nil {
		return out
	}
	fields := stringMapParam(inv.Params, "fields")
	switch inv.Mode {
	case models.ModeMock:
		return mockOutcome("form_submit", inv.Params, map[string]any{
			"url":    url,
			"fields": len(fields),
		})
	case models.ModeDryRun:
		return recordedWrite("form_submit", map[string]any{"url": url, "fields": fields})
	}
	browser, out := requireBrowser(inv)
	if out != nil {
		return out
	}
	if err := browser.Submit(ctx, url, fields); err != nil {
		return browserFailure("submit", err)
	}
	return models.OutcomeOf(map[string]any{"url": url, "submitted": true})
}

func invokeAPICall(ctx context.Context, inv *Invocation) *models.Outcome {
	url, out := requireString(inv, "url")
	if out != nil {
		return out
	}
	method := strings.ToUpper(stringParam(inv.Params, "method", http.MethodGet))
	switch inv.Mode {
	case models.ModeMock:
		return mockOutcome("api_call", inv.Params, map[string]any{
			"url":    url,
			"method": method,
			"status": http.StatusOK,
		})
	case models.ModeDryRun:
		if method != http.MethodGet && method != http.MethodHead {
			return recordedWrite("api_call", map[string]any{"url": url, "method": method})
		}
	}
	var body io.Reader
	if raw := stringParam(inv.Params, "body", ""); raw != "" {
		body = strings.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return models.FailureOf(models.FailureNonRetryable, "build request: "+err.Error())
	}
	if ct := stringParam(inv.Params, "content_type", ""); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.FailureOf(models.FailureRetryable, "api call: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.FailureOf(models.FailureRetryable, "read response: "+err.Error())
	}
	result := map[string]any{
		"url":    url,
		"method": method,
		"status": resp.StatusCode,
		"body":   string(payload),
	}
	if resp.StatusCode >= 500 {
		o := models.FailureOf(models.FailureRetryable, fmt.Sprintf("upstream status %d", resp.StatusCode))
		o.Result = result
		return o
	}
	if resp.StatusCode >= 400 {
		o := models.FailureOf(models.FailureNonRetryable, fmt.Sprintf("upstream status %d", resp.StatusCode))
		o.Result = result
		return o
	}
	return models.OutcomeOf(result)
}

func invokeContentPublish(ctx context.Context, inv *Invocation) *models.Outcome {
	endpoint, out := requireString(inv, "endpoint")
	if out != nil {
		return out
	}
	content := stringParam(inv.Params, "content", "")
	switch inv.Mode {
	case models.ModeMock:
		return mockOutcome("content_publish", inv.Params, map[string]any{
			"endpoint":     endpoint,
			"published_id": mockID("content_publish", inv.Params),
		})
	case models.ModeDryRun:
		return recordedWrite("content_publish", map[string]any{
			"endpoint":      endpoint,
			"content_bytes": len(content),
		})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(content))
	if err != nil {
		return models.FailureOf(models.FailureNonRetryable, "build request: "+err.Error())
	}
	req.Header.Set("Content-Type", stringParam(inv.Params, "content_type", "text/html"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.FailureOf(models.FailureRetryable, "publish: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return models.FailureOf(models.FailureNonRetryable, fmt.Sprintf("publish status %d", resp.StatusCode))
	}
	location := resp.Header.Get("Location")
	if location == "" {
		location = endpoint
	}
	return models.OutcomeOf(map[string]any{"endpoint": endpoint, "published_at": location})
}

// reverseContentPublish retracts a prior publish. Rollback invokes this with
// the original task params after a critical sibling failure.
func reverseContentPublish(ctx context.Context, inv *Invocation) *models.Outcome {
	endpoint, out := requireString(inv, "endpoint")
	if out != nil {
		return out
	}
	target := stringParam(inv.Params, "published_at", endpoint)
	switch inv.Mode {
	case models.ModeMock:
		return mockOutcome("content_unpublish", inv.Params, map[string]any{
			"endpoint":  target,
			"retracted": true,
		})
	case models.ModeDryRun:
		return recordedWrite("content_unpublish", map[string]any{"endpoint": target})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return models.FailureOf(models.FailureNonRetryable, "build request: "+err.Error())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return models.FailureOf(models.FailureRetryable, "unpublish: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return models.FailureOf(models.FailureNonRetryable, fmt.Sprintf("unpublish status %d", resp.StatusCode))
	}
	return models.OutcomeOf(map[string]any{"endpoint": target, "retracted": true})
}

func invokeDataAnalyze(_ context.Context, inv *Invocation) *models.Outcome {
	values := numberSlice(inv.Params["values"])
	if len(values) == 0 {
		values = upstreamNumbers(inv.Params["upstream"])
	}
	if len(values) == 0 {
		return models.FailureOf(models.FailureInputRejected, "data_analyze requires numeric values or upstream results")
	}
	minV, maxV, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		sum += v
	}
	return models.OutcomeOf(map[string]any{
		"count": len(values),
		"min":   minV,
		"max":   maxV,
		"mean":  sum / float64(len(values)),
	})
}

func invokeReportCompose(_ context.Context, inv *Invocation) *models.Outcome {
	title := stringParam(inv.Params, "title", "Mission Report")
	sections, ok := inv.Params["sections"].([]any)
	if !ok || len(sections) == 0 {
		sections = upstreamSections(inv.Params["upstream"])
	}
	if len(sections) == 0 {
		return models.FailureOf(models.FailureInputRejected, "report_compose requires sections or upstream results")
	}
	var b strings.Builder
	b.WriteString("# " + title + "\n")
	for i, raw := range sections {
		section, _ := raw.(map[string]any)
		heading := stringParam(section, "heading", fmt.Sprintf("Section %d", i+1))
		b.WriteString("\n## " + heading + "\n")
		b.WriteString(stringParam(section, "body", "") + "\n")
	}
	return models.OutcomeOf(map[string]any{
		"title":    title,
		"sections": len(sections),
		"report":   b.String(),
	})
}

// requireString fetches a mandatory string param; absence rejects the input.
func requireString(inv *Invocation, key string) (string, *models.Outcome) {
	s := stringParam(inv.Params, key, "")
	if s == "" {
		return "", models.FailureOf(models.FailureInputRejected, "missing required param: "+key)
	}
	return s, nil
}

// requireBrowser demands a checked-out session for live and dry-run reads.
// Absence is a capacity problem, not a tool failure, so it defers.
func requireBrowser(inv *Invocation) (Browser, *models.Outcome) {
	if inv.Browser == nil {
		return nil, models.FailureOf(models.FailureResourceExhaustion, "no browser session attached")
	}
	return inv.Browser, nil
}

func browserFailure(op string, err error) *models.Outcome {
	return models.FailureOf(models.FailureRetryable, op+": "+err.Error())
}

// recordedWrite is the dry-run stand-in for a side-effecting call: the
// would-be write is described in the result, nothing is executed.
func recordedWrite(kind string, recorded map[string]any) *models.Outcome {
	return models.OutcomeOf(map[string]any{
		"dry_run":  true,
		"recorded": map[string]any{"action": kind, "detail": recorded},
	})
}

// mockOutcome synthesizes a deterministic success for MOCK mode: the same
// kind and params always produce the same result.
func mockOutcome(kind string, params map[string]any, result map[string]any) *models.Outcome {
	result["mock"] = true
	result["mock_id"] = mockID(kind, params)
	return models.OutcomeOf(result)
}

func mockID(kind string, params map[string]any) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(kind))
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		encoded, _ := json.Marshal(params[k])
		_, _ = h.Write([]byte(k))
		_, _ = h.Write(encoded)
	}
	return fmt.Sprintf("mock-%016x", h.Sum64())
}

func mockSearchResults(query string) []any {
	return []any{
		map[string]any{"rank": 1, "title": "Overview: " + query, "url": "https://example.com/overview"},
		map[string]any{"rank": 2, "title": "Analysis: " + query, "url": "https://example.com/analysis"},
		map[string]any{"rank": 3, "title": "Discussion: " + query, "url": "https://example.com/discussion"},
	}
}

func stringParam(params map[string]any, key, fallback string) string {
	if params == nil {
		return fallback
	}
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func stringMapParam(params map[string]any, key string) map[string]string {
	out := make(map[string]string)
	raw, ok := params[key].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// upstreamNumbers collects numeric leaf values from upstream task results.
// Lets an analysis task consume whatever its predecessors produced without a
// fixed schema between tools.
func upstreamNumbers(raw any) []float64 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []float64
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		case map[string]any:
			keys := make([]string, 0, len(n))
			for k := range n {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(n[k])
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}
	for _, result := range list {
		walk(result)
	}
	return out
}

// upstreamSections turns upstream task results into report sections, one per
// predecessor.
func upstreamSections(raw any) []any {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	sections := make([]any, 0, len(list))
	for i, result := range list {
		body, _ := json.Marshal(result)
		sections = append(sections, map[string]any{
			"heading": fmt.Sprintf("Upstream result %d", i+1),
			"body":    string(body),
		})
	}
	return sections
}

func numberSlice(raw any) []float64 {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, v := range list {
		switch n := v.(type) {
		case float64:
			out = append(out, n)
		case int:
			out = append(out, float64(n))
		case int64:
			out = append(out, float64(n))
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil
			}
			out = append(out, f)
		default:
			return nil
		}
	}
	return out
}
