// Package learning closes the feedback loop: per (tool, domain) outcome
// statistics accumulate into usefulness scores that bias tool selection on
// later missions. Scores live in an in-memory cache with per-pair
// serialization and persist through the mission store.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// defaultPrior is the neutral usefulness assumed before enough samples exist.
const defaultPrior = 0.5

// fullConfidenceCalls is the sample count at which the prior stops blending.
const fullConfidenceCalls = 10.0

// ErrSurveyDuplicate rejects a second survey for the same mission.
var ErrSurveyDuplicate = errors.New("survey already applied for mission")

// ProfileStore is the slice of the mission store the scorer persists through.
type ProfileStore interface {
	SaveProfile(ctx context.Context, profile *models.ToolProfile) error
	GetProfile(ctx context.Context, tool, domain string) (*models.ToolProfile, error)
	ListProfiles(ctx context.Context) ([]*models.ToolProfile, error)
	SaveFeedback(ctx context.Context, rec *models.FeedbackRecord) error
	ListFeedback(ctx context.Context, tool, domain string) ([]*models.FeedbackRecord, error)
	ListTasks(ctx context.Context, missionID string) ([]*models.Task, error)
	GetMission(ctx context.Context, missionID string) (*models.Mission, error)
}

// Appender logs FEEDBACK events into mission logs. Satisfied by the event
// publisher.
type Appender interface {
	Append(ctx context.Context, missionID string, kind models.EventKind, payload any) (*models.Event, error)
}

// Signal is one observed tool outcome. Weight is the dispatcher's confidence
// in the signal; signals below the importance threshold are discarded.
type Signal struct {
	EventID     string
	Tool        string
	Domain      string
	Success     bool
	LatencyMS   float64
	FailureMode string
	Weight      float64
}

// entry is the cached state for one (tool, domain) pair. Each entry carries
// its own lock so updates for different pairs never contend.
type entry struct {
	mu         sync.Mutex
	profile    *models.ToolProfile
	multiplier float64
	nudge      float64
	neverUse   bool
}

// Scorer maintains usefulness scores and applies human feedback.
type Scorer struct {
	store     ProfileStore
	appender  Appender
	logger    *slog.Logger
	threshold float64

	mu       sync.RWMutex
	entries  map[string]*entry
	seen     *dedupSet
	surveyed *dedupSet
}

// NewScorer creates a scorer. Call Load before serving traffic.
func NewScorer(store ProfileStore, appender Appender, importanceThreshold float64, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:     store,
		appender:  appender,
		logger:    logger.With("component", "scorer"),
		threshold: importanceThreshold,
		entries:   make(map[string]*entry),
		seen:      newDedupSet(dedupLimit),
		surveyed:  newDedupSet(dedupLimit),
	}
}

// Load warms the cache from persisted profiles and re-applies stored
// feedback constraints.
func (s *Scorer) Load(ctx context.Context) error {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tool profiles: %w", err)
	}
	for _, p := range profiles {
		e := s.entryFor(p.Tool, p.Domain)
		e.mu.Lock()
		e.profile = p.Clone()
		e.mu.Unlock()
	}

	records, err := s.store.ListFeedback(ctx, "", "")
	if err != nil {
		return fmt.Errorf("failed to load feedback records: %w", err)
	}
	for _, rec := range records {
		s.applyAdjustment(rec)
	}

	s.logger.Info("Scorer loaded", "profiles", len(profiles), "feedback_records", len(records))
	return nil
}

// RecordOutcome folds one tool outcome into the (tool, domain) and _global
// profiles. Idempotent by event id; signals below the importance threshold
// are discarded.
func (s *Scorer) RecordOutcome(ctx context.Context, sig Signal) {
	if sig.Tool == "" || sig.EventID == "" {
		return
	}
	if sig.Weight < s.threshold {
		return
	}

	s.mu.Lock()
	fresh := s.seen.Add(sig.EventID)
	s.mu.Unlock()
	if !fresh {
		return
	}

	domain := normalizeDomain(sig.Domain)
	s.recordInto(ctx, sig, domain)
	if domain != models.GlobalDomain {
		s.recordInto(ctx, sig, models.GlobalDomain)
	}
	metrics.ScorerUpdates.Inc()
}

func (s *Scorer) recordInto(ctx context.Context, sig Signal, domain string) {
	e := s.entryFor(sig.Tool, domain)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.profile == nil {
		e.profile = &models.ToolProfile{Tool: strings.ToLower(sig.Tool), Domain: domain}
	}
	e.profile.RecordCall(sig.Success, sig.LatencyMS, sig.FailureMode)
	e.profile.UsefulnessScore = e.scoreLocked()

	if err := s.store.SaveProfile(ctx, e.profile); err != nil {
		s.logger.Warn("Failed to persist tool profile",
			"tool", sig.Tool, "domain", domain, "error", err)
	}
}

// Usefulness returns the score for a pair in [0, 1]. Falls back to _global
// when the domain has no history, and to the neutral prior when nothing has.
func (s *Scorer) Usefulness(tool, domain string) float64 {
	if e, ok := s.lookup(tool, normalizeDomain(domain)); ok {
		e.mu.Lock()
		if e.neverUse {
			e.mu.Unlock()
			return 0
		}
		hasHistory := e.profile != nil && e.profile.TotalCalls > 0
		if hasHistory || e.nudge != 0 || e.multiplier != 1 {
			score := e.scoreLocked()
			e.mu.Unlock()
			return score
		}
		e.mu.Unlock()
	}
	if e, ok := s.lookup(tool, models.GlobalDomain); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.neverUse {
			return 0
		}
		return e.scoreLocked()
	}
	return defaultPrior
}

// Constrained reports whether a NEVER_USE constraint blocks the pair. The
// dispatcher rejects constrained tools before invocation.
func (s *Scorer) Constrained(tool, domain string) bool {
	if e, ok := s.lookup(tool, normalizeDomain(domain)); ok {
		e.mu.Lock()
		blocked := e.neverUse
		e.mu.Unlock()
		if blocked {
			return true
		}
	}
	if e, ok := s.lookup(tool, models.GlobalDomain); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.neverUse
	}
	return false
}

// ApplyFeedback persists a human feedback record and applies its adjustment.
func (s *Scorer) ApplyFeedback(ctx context.Context, rec *models.FeedbackRecord) error {
	if rec.ToolName == "" {
		return errors.New("feedback requires a tool name")
	}
	if !rec.Verdict.IsValid() {
		return fmt.Errorf("invalid feedback verdict: %s", rec.Verdict)
	}
	if !rec.Action.IsValid() {
		return fmt.Errorf("invalid feedback action: %s", rec.Action)
	}
	if rec.FeedbackID == "" {
		rec.FeedbackID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Domain == "" {
		rec.Domain = models.GlobalDomain
	}

	if err := s.store.SaveFeedback(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist feedback: %w", err)
	}
	s.applyAdjustment(rec)
	s.persistScore(ctx, rec.ToolName, rec.Domain)

	s.logger.Info("Feedback applied",
		"tool", rec.ToolName, "domain", rec.Domain,
		"action", rec.Action, "hard_constraint", rec.HardConstraint != "")
	return nil
}

// ApplySurvey nudges every tool the mission used, once per mission. Ratings
// of 8 or above nudge up 0.05; 5 or below nudge down 0.10.
func (s *Scorer) ApplySurvey(ctx context.Context, missionID string, rating int, timeSaved bool) error {
	if rating < 1 || rating > 10 {
		return fmt.Errorf("survey rating out of range: %d", rating)
	}

	s.mu.Lock()
	fresh := s.surveyed.Add(missionID)
	s.mu.Unlock()
	if !fresh {
		return ErrSurveyDuplicate
	}

	nudge := 0.0
	switch {
	case rating >= 8:
		nudge = 0.05
	case rating <= 5:
		nudge = -0.10
	}

	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return fmt.Errorf("failed to load mission for survey: %w", err)
	}
	tasks, err := s.store.ListTasks(ctx, missionID)
	if err != nil {
		return fmt.Errorf("failed to load mission tasks for survey: %w", err)
	}

	domain := string(mission.Domain)
	nudged := make(map[string]struct{})
	for _, task := range tasks {
		if task.ActionKind == "" {
			continue
		}
		if _, done := nudged[task.ActionKind]; done {
			continue
		}
		nudged[task.ActionKind] = struct{}{}
		if nudge != 0 {
			e := s.entryFor(task.ActionKind, normalizeDomain(domain))
			e.mu.Lock()
			e.nudge = clamp(e.nudge+nudge, -0.5, 0.5)
			e.mu.Unlock()
			s.persistScore(ctx, task.ActionKind, domain)
		}
	}

	if s.appender != nil {
		_, err = s.appender.Append(ctx, missionID, models.EventFeedback, models.FeedbackPayload{
			Domain: domain,
			Rating: rating,
			Nudge:  nudge,
			Source: "survey",
		})
		if err != nil {
			return fmt.Errorf("failed to log survey feedback: %w", err)
		}
	}

	s.logger.Info("Survey applied",
		"mission_id", missionID, "rating", rating,
		"time_saved", timeSaved, "tools_nudged", len(nudged))
	return nil
}

func (s *Scorer) applyAdjustment(rec *models.FeedbackRecord) {
	e := s.entryFor(rec.ToolName, normalizeDomain(rec.Domain))
	e.mu.Lock()
	defer e.mu.Unlock()

	if rec.HardConstraint == models.ConstraintNeverUse || rec.Action == models.FeedbackConstrain {
		e.neverUse = true
		return
	}

	impact := rec.Impact
	if impact <= 0 {
		switch rec.Action {
		case models.FeedbackBoost:
			impact = 1.25
		case models.FeedbackPenalize:
			impact = 0.5
		default:
			impact = 1.0
		}
	}
	e.multiplier = clamp(e.multiplier*clamp(impact, 0, 2), 0, 2)
}

// persistScore writes the recomputed usefulness back through the store.
func (s *Scorer) persistScore(ctx context.Context, tool, domain string) {
	e := s.entryFor(tool, normalizeDomain(domain))
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile == nil {
		e.profile = &models.ToolProfile{
			Tool:      strings.ToLower(tool),
			Domain:    normalizeDomain(domain),
			UpdatedAt: time.Now().UTC(),
		}
	}
	e.profile.UsefulnessScore = e.scoreLocked()
	if err := s.store.SaveProfile(ctx, e.profile); err != nil {
		s.logger.Warn("Failed to persist tool profile",
			"tool", tool, "domain", domain, "error", err)
	}
}

// scoreLocked computes the usefulness score. Caller holds e.mu.
func (e *entry) scoreLocked() float64 {
	if e.neverUse {
		return 0
	}
	score := defaultPrior
	if e.profile != nil && e.profile.TotalCalls > 0 {
		// Blend the observed success rate with the neutral prior; the prior's
		// share shrinks as samples accumulate.
		weight := math.Min(1, float64(e.profile.TotalCalls)/fullConfidenceCalls)
		score = weight*e.profile.SuccessRate() + (1-weight)*defaultPrior
	}
	score *= e.multiplier
	score += e.nudge
	return clamp(score, 0, 1)
}

func (s *Scorer) entryFor(tool, domain string) *entry {
	key := pairKey(tool, domain)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[key]; ok {
		return e
	}
	e = &entry{multiplier: 1}
	s.entries[key] = e
	return e
}

func (s *Scorer) lookup(tool, domain string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[pairKey(tool, domain)]
	return e, ok
}

func pairKey(tool, domain string) string {
	return strings.ToLower(tool) + "|" + strings.ToLower(domain)
}

func normalizeDomain(domain string) string {
	if domain == "" {
		return models.GlobalDomain
	}
	return strings.ToLower(domain)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
