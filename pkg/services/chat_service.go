package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pathfind-io/pathfinder/pkg/models"
	"github.com/pathfind-io/pathfinder/pkg/session"
)

// ChatInput is one inbound chat message.
type ChatInput struct {
	SessionID string
	OwnerID   string
	Text      string
}

// ChatService turns chat messages into missions and structured reply
// envelopes. Observers never see raw execution traces; the envelope plus the
// event stream is the whole interface.
type ChatService struct {
	missions *MissionService
	sessions *session.Manager
	logger   *slog.Logger
}

// NewChatService wires the chat front door.
func NewChatService(missions *MissionService, sessions *session.Manager, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		missions: missions,
		sessions: sessions,
		logger:   logger.With("component", "chat"),
	}
}

// HandleMessage processes one chat message: the objective goes through
// mission intake and the verdict comes back as an envelope. Rejections and
// duplicates produce envelopes too; only infrastructure faults error.
func (s *ChatService) HandleMessage(ctx context.Context, input ChatInput) (string, *session.ResponseEnvelope, error) {
	if input.OwnerID == "" {
		return "", nil, NewValidationError("owner_id", "owner is required")
	}
	sess := s.sessions.GetOrCreate(input.SessionID, input.OwnerID)

	mission, err := s.missions.Intake(ctx, IntakeInput{
		OwnerID:   input.OwnerID,
		Objective: input.Text,
	})
	if err != nil {
		env, handled := rejectionEnvelope(err)
		if !handled {
			return sess.SessionID, nil, err
		}
		sess.RecordMission("", env, sess.LastSeenAt)
		return sess.SessionID, env, nil
	}

	env := &session.ResponseEnvelope{
		MissionsSpawned: []string{mission.MissionID},
		SignalsEmitted:  []string{string(models.EventMissionStart)},
		LiveStreamID:    mission.MissionID,
	}
	switch mission.Status {
	case models.MissionStatusClarificationNeeded:
		env.Status = "clarification_needed"
		env.Summary = fmt.Sprintf("I could not confidently classify %q. Add detail or approve it as-is.", mission.ObjectiveText)
	default:
		env.Status = "accepted"
		env.Summary = fmt.Sprintf("Mission proposed in the %s domain with %d task(s). Approve it to start execution.",
			mission.Domain, len(mission.TaskIDs))
	}
	sess.RecordMission(mission.MissionID, env, sess.LastSeenAt)
	s.logger.Info("Chat message handled",
		"session_id", sess.SessionID, "mission_id", mission.MissionID, "status", env.Status)
	return sess.SessionID, env, nil
}

// rejectionEnvelope maps expected intake refusals to reply envelopes.
func rejectionEnvelope(err error) (*session.ResponseEnvelope, bool) {
	switch {
	case IsValidationError(err):
		return &session.ResponseEnvelope{
			Status:  "rejected",
			Summary: "That objective cannot become a mission: " + err.Error(),
		}, true
	case errors.Is(err, ErrDuplicateMission):
		return &session.ResponseEnvelope{
			Status:  "duplicate",
			Summary: "An identical objective from you is already in flight.",
		}, true
	default:
		return nil, false
	}
}
