package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pathfind-io/pathfinder/pkg/config"
	"github.com/pathfind-io/pathfinder/pkg/events"
	"github.com/pathfind-io/pathfinder/pkg/metrics"
	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/plan"
	"github.com/pathfind-io/pathfinder/pkg/store"
	"github.com/pathfind-io/pathfinder/pkg/tools"
)

// clarificationThreshold is the decomposition confidence below which a
// mission is parked in CLARIFICATION_NEEDED instead of being planned.
const clarificationThreshold = 0.9

// MissionScheduler is the scheduler surface the mission service needs.
type MissionScheduler interface {
	EnqueueMission(ctx context.Context, missionID string) error
}

// IntakeInput is the domain-level shape of a new objective, transformed from
// the HTTP request by the handler.
type IntakeInput struct {
	OwnerID     string
	Objective   string
	Priority    models.Priority
	Mode        models.ExecutionMode
	Policy      models.PolicyOverrides
	TriggerTime *time.Time
	Recurrence  models.Recurrence
}

// UpdateInput carries the mutable mission fields. Nil fields are unchanged.
type UpdateInput struct {
	Priority *models.Priority
	Mode     *models.ExecutionMode
	Policy   *models.PolicyOverrides
}

// MissionService handles mission intake, planning, approval, and reads. All
// writes go through the event publisher so observers see them live.
type MissionService struct {
	engine    config.EngineConfig
	store     store.Store
	pub       *events.Publisher
	registry  *tools.Registry
	scheduler MissionScheduler
	logger    *slog.Logger

	mu       sync.Mutex
	triggers map[string]*time.Timer
}

// NewMissionService wires the mission service. Scheduler may be nil in tests;
// approved missions then wait for an explicit enqueue.
func NewMissionService(engine config.EngineConfig, st store.Store, pub *events.Publisher, registry *tools.Registry, scheduler MissionScheduler, logger *slog.Logger) *MissionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MissionService{
		engine:    engine,
		store:     st,
		pub:       pub,
		registry:  registry,
		scheduler: scheduler,
		logger:    logger.With("component", "missions"),
		triggers:  make(map[string]*time.Timer),
	}
}

// Intake classifies an objective, creates the mission, and plans its tasks.
// Low decomposition confidence parks the mission in CLARIFICATION_NEEDED; a
// rejected objective creates nothing.
func (s *MissionService) Intake(ctx context.Context, input IntakeInput) (*models.Mission, error) {
	if input.OwnerID == "" {
		return nil, NewValidationError("owner_id", "owner is required")
	}
	classification, err := plan.Classify(input.Objective)
	if err != nil {
		return nil, NewValidationError("objective", err.Error())
	}
	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !priority.IsValid() {
		return nil, NewValidationError("priority", fmt.Sprintf("unknown priority %q", input.Priority))
	}
	mode := input.Mode
	if mode == "" {
		mode = models.ModeMock
	}
	if !mode.IsValid() {
		return nil, NewValidationError("execution_mode", fmt.Sprintf("unknown execution mode %q", input.Mode))
	}
	if !input.Recurrence.IsValid() {
		return nil, NewValidationError("recurrence", fmt.Sprintf("unknown recurrence %q", input.Recurrence))
	}

	deadline := time.Now().UTC().Add(s.engine.MissionDeadline())
	mission := &models.Mission{
		ObjectiveText: strings.TrimSpace(input.Objective),
		OwnerID:       input.OwnerID,
		Domain:        classification.Domain,
		Priority:      priority,
		ExecutionMode: mode,
		Policy:        input.Policy,
		TriggerTime:   input.TriggerTime,
		Recurrence:    input.Recurrence,
		DeadlineAt:    &deadline,
	}
	evt, err := s.pub.CreateMission(ctx, mission)
	if err != nil {
		return nil, err
	}
	missionID := evt.MissionID
	metrics.MissionsCreated.WithLabelValues(string(classification.Domain)).Inc()

	if classification.Confidence < clarificationThreshold || classification.Domain == models.DomainUnknown {
		_, err = s.pub.Append(ctx, missionID, models.EventStatusChange, models.StatusChangePayload{
			From:   models.MissionStatusProposed,
			To:     models.MissionStatusClarificationNeeded,
			Reason: "low decomposition confidence",
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("Mission needs clarification",
			"mission_id", missionID, "confidence", classification.Confidence)
		return s.store.GetMission(ctx, missionID)
	}

	if err := s.planTasks(ctx, missionID, classification); err != nil {
		return nil, err
	}
	s.logger.Info("Mission created",
		"mission_id", missionID, "domain", string(classification.Domain),
		"composite", classification.IsComposite, "subgoals", len(classification.Subgoals))
	return s.store.GetMission(ctx, missionID)
}

// planTasks appends one TASK_SCHEDULED event per subgoal. Composite subgoals
// chain: each task depends on the previous one, fixing execution order.
func (s *MissionService) planTasks(ctx context.Context, missionID string, c *plan.Classification) error {
	subgoals := c.Subgoals
	if len(subgoals) > s.engine.MaxStepsPerMission {
		subgoals = subgoals[:s.engine.MaxStepsPerMission]
	}
	prevID := ""
	now := time.Now().UTC()
	for _, sg := range subgoals {
		task := &models.Task{
			TaskID:       uuid.New().String(),
			MissionID:    missionID,
			ActionKind:   sg.ActionKind,
			ActionParams: taskParams(sg),
			Status:       models.TaskStatusPending,
			MaxAttempts:  s.engine.MaxRetriesPerTask,
			Confidence:   c.Confidence,
			KindHint:     sg.Kind,
			CreatedAt:    now,
		}
		if def, ok := s.registry.Get(sg.ActionKind); ok {
			task.RiskLevel = def.RiskLevel
		} else {
			task.RiskLevel = models.RiskLow
		}
		if c.IsComposite && prevID != "" {
			task.DependsOn = []string{prevID}
		}
		if _, err := s.pub.Append(ctx, missionID, models.EventTaskScheduled, models.TaskScheduledPayload{Task: task}); err != nil {
			return err
		}
		prevID = task.TaskID
	}
	return nil
}

// Approve moves a mission into the queue. The approval is recorded as an
// intake-scope CONTROL_APPROVED event carrying only the operator, so it never
// arms HIGH-risk execution; that takes a second operator through the control
// gate.
func (s *MissionService) Approve(ctx context.Context, missionID, operatorID string) (*models.Mission, error) {
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !mission.Status.IsMutable() {
		return nil, ErrMissionNotMutable
	}
	if len(mission.TaskIDs) == 0 {
		// Approval of a CLARIFICATION_NEEDED mission overrides the
		// confidence gate; the plan is built from the objective as-is.
		classification, err := plan.Classify(mission.ObjectiveText)
		if err != nil {
			return nil, NewValidationError("objective", err.Error())
		}
		if err := s.planTasks(ctx, missionID, classification); err != nil {
			return nil, err
		}
	}
	if _, err := s.pub.Append(ctx, missionID, models.EventControlApproved, models.ControlPayload{
		TargetID:   missionID,
		OperatorID: operatorID,
		Scope:      "intake",
	}); err != nil {
		return nil, err
	}
	if _, err := s.pub.Append(ctx, missionID, models.EventStatusChange, models.StatusChangePayload{
		From: mission.Status,
		To:   models.MissionStatusQueued,
	}); err != nil {
		return nil, err
	}

	if mission.TriggerTime != nil && mission.TriggerTime.After(time.Now()) {
		s.armTrigger(missionID, time.Until(*mission.TriggerTime))
	} else if s.scheduler != nil {
		if err := s.scheduler.EnqueueMission(ctx, missionID); err != nil {
			return nil, err
		}
	}
	s.logger.Info("Mission approved", "mission_id", missionID, "operator_id", operatorID)
	return s.store.GetMission(ctx, missionID)
}

// Update changes policy fields while the mission is still mutable. The merged
// record replays through a fresh MISSION_START payload, keeping rebuild
// equality intact.
func (s *MissionService) Update(ctx context.Context, missionID string, input UpdateInput) (*models.Mission, error) {
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !mission.Status.IsMutable() {
		return nil, ErrMissionNotMutable
	}
	if input.Priority != nil {
		if !input.Priority.IsValid() {
			return nil, NewValidationError("priority", fmt.Sprintf("unknown priority %q", *input.Priority))
		}
		mission.Priority = *input.Priority
	}
	if input.Mode != nil {
		if !input.Mode.IsValid() {
			return nil, NewValidationError("execution_mode", fmt.Sprintf("unknown execution mode %q", *input.Mode))
		}
		mission.ExecutionMode = *input.Mode
	}
	if input.Policy != nil {
		mission.Policy = *input.Policy
	}
	if err := s.replayStart(ctx, mission); err != nil {
		return nil, err
	}
	return s.store.GetMission(ctx, missionID)
}

// Schedule sets or clears the trigger time and recurrence of a mutable
// mission.
func (s *MissionService) Schedule(ctx context.Context, missionID string, trigger *time.Time, recurrence models.Recurrence) (*models.Mission, error) {
	if !recurrence.IsValid() {
		return nil, NewValidationError("recurrence", fmt.Sprintf("unknown recurrence %q", recurrence))
	}
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if !mission.Status.IsMutable() {
		return nil, ErrMissionNotMutable
	}
	mission.TriggerTime = trigger
	mission.Recurrence = recurrence
	if err := s.replayStart(ctx, mission); err != nil {
		return nil, err
	}
	return s.store.GetMission(ctx, missionID)
}

// replayStart appends a MISSION_START event with the mission's current
// fields. The projection overwrites scalar fields, so the update survives a
// full log replay.
func (s *MissionService) replayStart(ctx context.Context, mission *models.Mission) error {
	_, err := s.pub.Append(ctx, mission.MissionID, models.EventMissionStart, models.MissionStartPayload{
		Objective:     mission.ObjectiveText,
		OwnerID:       mission.OwnerID,
		Domain:        mission.Domain,
		Priority:      mission.Priority,
		ExecutionMode: mission.ExecutionMode,
		Policy:        mission.Policy,
		TriggerTime:   mission.TriggerTime,
		Recurrence:    mission.Recurrence,
		DeadlineAt:    mission.DeadlineAt,
	})
	return err
}

// Get returns one mission snapshot.
func (s *MissionService) Get(ctx context.Context, missionID string) (*models.Mission, error) {
	return s.store.GetMission(ctx, missionID)
}

// List returns missions matching the filter.
func (s *MissionService) List(ctx context.Context, filter models.MissionFilter) ([]*models.Mission, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("unknown status %q", filter.Status))
	}
	return s.store.ListMissions(ctx, filter)
}

// Tasks returns a mission's tasks in scheduling order.
func (s *MissionService) Tasks(ctx context.Context, missionID string) ([]*models.Task, error) {
	if _, err := s.store.GetMission(ctx, missionID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, missionID)
}

// Events replays a mission's log after the given sequence number. This backs
// stream resynchronization after a GAP marker.
func (s *MissionService) Events(ctx context.Context, missionID string, afterSeq int64, limit int) ([]*models.Event, error) {
	if _, err := s.store.GetMission(ctx, missionID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, missionID, afterSeq, limit)
}

// HandleFinished is the executor's completion hook. Completed recurring
// missions respawn with the trigger advanced by one interval.
func (s *MissionService) HandleFinished(missionID string, status models.MissionStatus) {
	if status != models.MissionStatusCompleted {
		return
	}
	ctx := context.Background()
	mission, err := s.store.GetMission(ctx, missionID)
	if err != nil || mission.Recurrence == models.RecurrenceNone {
		return
	}
	next := time.Now().UTC().Add(mission.Recurrence.Interval())
	respawn, err := s.Intake(ctx, IntakeInput{
		OwnerID:     mission.OwnerID,
		Objective:   mission.ObjectiveText,
		Priority:    mission.Priority,
		Mode:        mission.ExecutionMode,
		Policy:      mission.Policy,
		TriggerTime: &next,
		Recurrence:  mission.Recurrence,
	})
	if err != nil {
		s.logger.Error("Failed to respawn recurring mission",
			"mission_id", missionID, "error", err)
		return
	}
	// Recurring respawns skip the manual approval gate: the operator
	// approved the recurrence when approving the original mission.
	if _, err := s.Approve(ctx, respawn.MissionID, mission.OwnerID); err != nil {
		s.logger.Error("Failed to queue recurring mission",
			"mission_id", respawn.MissionID, "error", err)
		return
	}
	s.logger.Info("Recurring mission respawned",
		"mission_id", missionID, "respawn_id", respawn.MissionID, "next_run", next)
}

// ResumeTriggers re-arms trigger timers for queued missions after a restart.
func (s *MissionService) ResumeTriggers(ctx context.Context) error {
	missions, err := s.store.ListMissions(ctx, models.MissionFilter{Status: models.MissionStatusQueued})
	if err != nil {
		return err
	}
	now := time.Now()
	for _, m := range missions {
		if m.TriggerTime == nil || !m.TriggerTime.After(now) {
			continue
		}
		s.armTrigger(m.MissionID, m.TriggerTime.Sub(now))
	}
	return nil
}

// Close cancels pending trigger timers.
func (s *MissionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.triggers {
		timer.Stop()
		delete(s.triggers, id)
	}
}

func (s *MissionService) armTrigger(missionID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.triggers[missionID]; ok {
		old.Stop()
	}
	s.triggers[missionID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.triggers, missionID)
		s.mu.Unlock()
		if s.scheduler == nil {
			return
		}
		if err := s.scheduler.EnqueueMission(context.Background(), missionID); err != nil {
			s.logger.Error("Failed to enqueue triggered mission",
				"mission_id", missionID, "error", err)
		}
	})
}

// taskParams synthesizes invocation params for a planned subgoal. URLs found
// in the objective text bind to the tool's url-shaped param.
func taskParams(sg plan.Subgoal) map[string]any {
	params := map[string]any{"objective": sg.Objective}
	url := firstURL(sg.Objective)
	switch sg.ActionKind {
	case "web_search":
		params["query"] = sg.Objective
	case "web_navigate", "web_extract", "web_screenshot", "form_submit", "api_call":
		if url != "" {
			params["url"] = url
		}
	case "content_publish":
		params["content"] = sg.Objective
		if url != "" {
			params["endpoint"] = url
		}
	case "report_compose":
		params["title"] = sg.Objective
	}
	return params
}

// firstURL returns the first http(s) token in the text, or empty.
func firstURL(text string) string {
	for _, field := range strings.Fields(text) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			return strings.TrimRight(field, ".,;)")
		}
	}
	return ""
}
