package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/anferov/lexflow/pkg/schema"
)

// Built-in rule handler IDs.
const (
	RuleAppealDeadline = "case.appeal_deadline"
	RuleHearingPrep    = "hearing.preparation"
	RuleCaseReview     = "case.review"
	RuleClientFollowup = "case.client_followup"
)

// Follow-up lead times for the built-in rules.
const (
	appealDeadlineLead = 10 * 24 * time.Hour
	hearingPrepLead    = 3 * 24 * time.Hour
	caseReviewLead     = 7 * 24 * time.Hour
	clientFollowupLead = 14 * 24 * time.Hour
)

// CaseFetcher resolves a case snapshot by ID. The hearing-preparation rule is
// the only built-in that needs it: hearing payloads don't carry the parent
// case's lawyer.
type CaseFetcher interface {
	GetCaseSnapshot(ctx context.Context, id string) (*schema.CaseSnapshot, error)
}

// AppealDeadlineRule reacts to a case closing with a recorded court decision
// and schedules the appeal filing ten days after the decision date.
type AppealDeadlineRule struct{}

func (r *AppealDeadlineRule) ID() string { return RuleAppealDeadline }

func (r *AppealDeadlineRule) Evaluate(_ context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error) {
	c := event.Payload.Case
	if c == nil || c.Status != schema.CaseStatusClosed || c.DecisionDate == nil {
		return nil, nil
	}
	return []schema.TaskSpawnRequest{{
		Title:       "File appeal",
		Description: fmt.Sprintf("File an appeal against the court decision in case %q", c.Title),
		DueDate:     c.DecisionDate.Add(appealDeadlineLead),
		CaseID:      event.EntityID,
		Priority:    schema.TaskPriorityHigh,
		AssigneeID:  c.LawyerID,
	}}, nil
}

// HearingPrepRule reacts to a newly scheduled hearing and schedules document
// preparation three days before it. It fetches the parent case to resolve the
// assignee and the case title.
type HearingPrepRule struct {
	Cases CaseFetcher
}

func (r *HearingPrepRule) ID() string { return RuleHearingPrep }

func (r *HearingPrepRule) Evaluate(ctx context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error) {
	h := event.Payload.Hearing
	if h == nil {
		return nil, nil
	}
	c, err := r.Cases.GetCaseSnapshot(ctx, h.CaseID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"resolve parent case %s", h.CaseID).WithRule(RuleHearingPrep).WithCause(err)
	}
	return []schema.TaskSpawnRequest{{
		Title:       "Prepare for hearing",
		Description: fmt.Sprintf("Prepare documents and materials for the hearing in case %q", c.Title),
		DueDate:     h.ScheduledFor.Add(-hearingPrepLead),
		CaseID:      h.CaseID,
		HearingID:   event.EntityID,
		Priority:    schema.TaskPriorityHigh,
		AssigneeID:  c.LawyerID,
	}}, nil
}

// CaseReviewRule reacts to a case entering the review stage and schedules a
// file review one week out.
type CaseReviewRule struct {
	Now func() time.Time
}

func (r *CaseReviewRule) ID() string { return RuleCaseReview }

func (r *CaseReviewRule) Evaluate(_ context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error) {
	c := event.Payload.Case
	if c == nil || c.Stage != schema.CaseStageReview {
		return nil, nil
	}
	return []schema.TaskSpawnRequest{{
		Title:       "Review case file",
		Description: fmt.Sprintf("Conduct a review of case %q", c.Title),
		DueDate:     r.Now().Add(caseReviewLead),
		CaseID:      event.EntityID,
		Priority:    schema.TaskPriorityMedium,
		AssigneeID:  c.LawyerID,
	}}, nil
}

// ClientFollowupRule reacts to a case closing and schedules a client check-in
// two weeks out.
type ClientFollowupRule struct {
	Now func() time.Time
}

func (r *ClientFollowupRule) ID() string { return RuleClientFollowup }

func (r *ClientFollowupRule) Evaluate(_ context.Context, event *schema.LifecycleEvent) ([]schema.TaskSpawnRequest, error) {
	c := event.Payload.Case
	if c == nil || c.Status != schema.CaseStatusClosed {
		return nil, nil
	}
	return []schema.TaskSpawnRequest{{
		Title:       "Follow up with client after case closure",
		Description: fmt.Sprintf("Contact the client about the outcome of case %q", c.Title),
		DueDate:     r.Now().Add(clientFollowupLead),
		CaseID:      event.EntityID,
		Priority:    schema.TaskPriorityMedium,
		AssigneeID:  c.LawyerID,
	}}, nil
}

// RegisterBuiltins binds the four built-in rules to their lifecycle events.
// Registration order fixes execution order within a dispatch. A nil now
// defaults to time.Now.
func RegisterBuiltins(reg *Registry, cases CaseFetcher, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	regs := []struct {
		entityKind string
		eventName  string
		handler    Handler
	}{
		{schema.EntityCase, schema.EventAfterUpdate, &AppealDeadlineRule{}},
		{schema.EntityCase, schema.EventAfterUpdate, &CaseReviewRule{Now: now}},
		{schema.EntityCase, schema.EventAfterUpdate, &ClientFollowupRule{Now: now}},
		{schema.EntityHearing, schema.EventAfterInsert, &HearingPrepRule{Cases: cases}},
	}
	for _, r := range regs {
		if err := reg.Register(r.entityKind, r.eventName, r.handler); err != nil {
			return err
		}
	}
	return nil
}
