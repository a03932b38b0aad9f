package services

import (
	"context"
	"time"

	"github.com/pathfind-io/pathfinder/pkg/control"
	"github.com/pathfind-io/pathfinder/pkg/models"
)

// ControlInput is the domain-level shape of an operator control request.
type ControlInput struct {
	Action       models.ControlAction
	TargetID     string
	OperatorID   string
	Reason       string
	LockDuration int64 // seconds, LOCK_DOMAIN only
}

// ControlService fronts the control gate for the API layer.
type ControlService struct {
	manager *control.Manager
}

// NewControlService wires the control service.
func NewControlService(manager *control.Manager) *ControlService {
	return &ControlService{manager: manager}
}

// Request submits a control request. Ungated actions execute before returning.
func (s *ControlService) Request(ctx context.Context, input ControlInput) (*models.ControlRequest, error) {
	if !input.Action.IsValid() {
		return nil, NewValidationError("action", "unknown control action")
	}
	if input.OperatorID == "" {
		return nil, NewValidationError("operator_id", "operator is required")
	}
	if input.TargetID == "" {
		return nil, NewValidationError("target_id", "target is required")
	}
	req := &models.ControlRequest{
		Action:     input.Action,
		TargetID:   input.TargetID,
		OperatorID: input.OperatorID,
		Reason:     input.Reason,
	}
	if input.LockDuration > 0 {
		req.LockDuration = time.Duration(input.LockDuration) * time.Second
	}
	return s.manager.Submit(ctx, req)
}

// Approve records a second operator's approval and executes the action.
func (s *ControlService) Approve(ctx context.Context, requestID, approverID, reason string) (*models.ControlRequest, error) {
	if approverID == "" {
		return nil, NewValidationError("approver_id", "approver is required")
	}
	return s.manager.Approve(ctx, requestID, approverID, reason)
}

// Reject closes a pending request without executing it.
func (s *ControlService) Reject(ctx context.Context, requestID, approverID, reason string) (*models.ControlRequest, error) {
	return s.manager.Reject(ctx, requestID, approverID, reason)
}

// Get returns one control request.
func (s *ControlService) Get(ctx context.Context, requestID string) (*models.ControlRequest, error) {
	return s.manager.Get(ctx, requestID)
}

// List returns control requests, optionally filtered by status.
func (s *ControlService) List(ctx context.Context, status models.ControlStatus) ([]*models.ControlRequest, error) {
	if status != "" && !status.IsValid() {
		return nil, NewValidationError("status", "unknown control status")
	}
	return s.manager.List(ctx, status)
}
