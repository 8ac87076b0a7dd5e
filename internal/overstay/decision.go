package overstay

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ProcessDecision validates and applies a manager's approve, adjust or
// waive decision to a record in pending_review or charge_failed. The
// final penalty may only lower the calculated amount, never exceed it.
func (s *Service) ProcessDecision(ctx context.Context, input DecisionInput) (*Record, error) {
	if input.ManagerID == 0 {
		return nil, validationErr("manager id required")
	}
	rec, err := s.repo.GetRecord(ctx, input.RecordID)
	if err != nil {
		return nil, err
	}
	if !Decidable(rec.Status) {
		return nil, fmt.Errorf("%w: decision not allowed in status %s", ErrInvalidState, rec.Status)
	}

	switch input.Action {
	case ActionApprove:
		return s.applyApproval(ctx, rec, input, rec.CalculatedPenaltyCents)
	case ActionAdjust:
		if input.FinalPenaltyCents == nil {
			return nil, validationErr("adjust requires final penalty amount")
		}
		amount := *input.FinalPenaltyCents
		if amount < 0 {
			return nil, validationErr("final penalty must not be negative")
		}
		if amount > rec.CalculatedPenaltyCents {
			return nil, validationErr(fmt.Sprintf(
				"final penalty %d exceeds calculated maximum %d", amount, rec.CalculatedPenaltyCents))
		}
		return s.applyApproval(ctx, rec, input, amount)
	case ActionWaive:
		if strings.TrimSpace(input.WaiveReason) == "" {
			return nil, validationErr("waive requires a reason")
		}
		return s.applyWaiver(ctx, rec, input)
	default:
		return nil, validationErr(fmt.Sprintf("unknown action %q", input.Action))
	}
}

func (s *Service) applyApproval(ctx context.Context, rec *Record, input DecisionInput, amount int64) (*Record, error) {
	now := s.clock()
	fields := RecordMutation{
		FinalPenaltyCents: &amount,
		ApprovedBy:        &input.ManagerID,
		ApprovedAt:        &now,
	}
	if input.ManagerNotes != "" {
		fields.ManagerNotes = &input.ManagerNotes
	}
	updated, err := s.applyDecisionTransition(ctx, rec, StatusPenaltyApproved, input, fields, amount)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) applyWaiver(ctx context.Context, rec *Record, input DecisionInput) (*Record, error) {
	zero := int64(0)
	waived := true
	now := s.clock()
	resolution := "waived"
	fields := RecordMutation{
		FinalPenaltyCents: &zero,
		Waived:            &waived,
		WaiveReason:       &input.WaiveReason,
		ApprovedBy:        &input.ManagerID,
		ApprovedAt:        &now,
		ResolvedAt:        &now,
		ResolutionType:    &resolution,
	}
	if input.ManagerNotes != "" {
		fields.ManagerNotes = &input.ManagerNotes
	}
	return s.applyDecisionTransition(ctx, rec, StatusPenaltyWaived, input, fields, 0)
}

// applyDecisionTransition writes the guarded status change and the
// manager_decision audit entry in one transaction.
func (s *Service) applyDecisionTransition(ctx context.Context, rec *Record, to Status, input DecisionInput, fields RecordMutation, amount int64) (*Record, error) {
	if !CanTransition(rec.Status, to) {
		return nil, invalidTransition(rec.Status, to)
	}
	payload := map[string]any{
		"action":              string(input.Action),
		"manager_id":          input.ManagerID,
		"final_penalty_cents": amount,
		"from":                string(rec.Status),
		"to":                  string(to),
	}
	if input.ManagerNotes != "" {
		payload["notes"] = input.ManagerNotes
	}
	if input.WaiveReason != "" {
		payload["waive_reason"] = input.WaiveReason
	}
	entry := HistoryEntry{
		ID:        uuid.New(),
		RecordID:  rec.ID,
		EventType: EventManagerDecision,
		Source:    SourceManager,
		Payload:   payload,
		CreatedAt: s.clock(),
	}
	updated, err := s.repo.ApplyTransition(ctx, TransitionUpdate{
		RecordID: rec.ID,
		From:     DecidableStatuses,
		To:       to,
		Fields:   fields,
	}, entry)
	if err != nil {
		return nil, err
	}
	return updated, nil
}
