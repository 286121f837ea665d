// Package batches fans one bulk submission into individual invitation
// creations: bounded admission (quota), independent per-recipient
// execution with isolated failure, and an aggregate result. A single bad
// recipient never aborts the rest.
package batches

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"stratix-backend/internal/application/activity"
	"stratix-backend/internal/application/emails"
	"stratix-backend/internal/application/invitations"
	policies "stratix-backend/internal/application/policies/invitations"
	"stratix-backend/internal/constants"
	"stratix-backend/internal/domain"
	"stratix-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	// ErrQuotaExceeded rejects the whole batch before any invitation is
	// created; partial quota consumption would be surprising to callers.
	ErrQuotaExceeded = errors.New("Recipient count exceeds your batch quota")

	ErrNoRecipients  = errors.New("At least one recipient is required")
	ErrBatchNotFound = errors.New("Batch not found")

	// ErrBatchNotCancellable is returned when the batch already left
	// pending; the status CAS is the tie-breaker against dispatch.
	ErrBatchNotCancellable = errors.New("Batch is no longer pending")
)

type Service struct {
	DB          *gorm.DB
	Invitations *invitations.Service
	Events      *activity.Emitter

	Mailer        emails.Sender
	InviteBaseURL string

	QuotaDefault    int
	QuotaSuperadmin int
	Workers         int
	MailTimeout     time.Duration
}

var now = time.Now

// Recipient is one submitted recipient with an optional per-recipient
// message override.
type Recipient struct {
	Email   string  `json:"email"`
	Message *string `json:"message,omitempty"`
}

type SubmitInput struct {
	Caller       policies.Caller
	Recipients   []Recipient
	Role         string
	AreaID       *uuid.UUID
	Message      *string
	Name         string
	ScheduledFor *time.Time
	ValidityDays int
}

// RecipientResult is the resolved outcome for one recipient.
type RecipientResult struct {
	Email    string     `json:"email"`
	Success  bool       `json:"success"`
	InviteID *uuid.UUID `json:"invite_id,omitempty"`
	Error    string     `json:"error,omitempty"`
	Skipped  bool       `json:"skipped,omitempty"`
}

// SubmitResult is returned to the caller. Results is nil for scheduled
// batches, which resolve when the scheduler dispatches them.
type SubmitResult struct {
	Batch   *domain.Batch     `json:"batch"`
	Results []RecipientResult `json:"results,omitempty"`
}

// Submit validates, persists and (when not scheduled) processes one batch.
// Authorization, recipient-count and quota failures reject before any
// state is written.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	areaID, err := policies.ResolveInvite(in.Caller, in.Role, in.AreaID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Invitations.Tokens.Window(in.ValidityDays); err != nil {
		return nil, err
	}
	recipients := dedupe(in.Recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	live := 0
	for _, r := range recipients {
		if !r.duplicate {
			live++
		}
	}
	if live > s.quotaFor(in.Caller.Role) {
		return nil, ErrQuotaExceeded
	}

	at := now()
	name := in.Name
	if name == "" {
		name = "Batch " + at.Format("2006-01-02 15:04")
	}
	batch := &domain.Batch{
		OrgID:        in.Caller.OrgID,
		Name:         name,
		CreatedBy:    in.Caller.UserID,
		Role:         in.Role,
		AreaID:       areaID,
		Message:      in.Message,
		ValidityDays: in.ValidityDays,
		ScheduledFor: in.ScheduledFor,
		Status:       domain.BatchStatusPending,
		TotalCount:   live,
	}
	if err := s.DB.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	for i, r := range recipients {
		row := &domain.BatchRecipient{
			BatchID:  batch.BatchID,
			Position: i,
			Email:    r.email,
			Message:  r.message,
			Outcome:  domain.RecipientOutcomeQueued,
		}
		if r.duplicate {
			row.Outcome = domain.RecipientOutcomeSkippedDuplicate
		}
		if err := s.DB.WithContext(ctx).Create(row).Error; err != nil {
			return nil, err
		}
	}

	s.Events.Record(ctx, activity.Event{
		OrgID:   batch.OrgID,
		BatchID: &batch.BatchID,
		Type:    domain.EventBatchSubmitted,
		Actor:   in.Caller.UserID,
		Data:    map[string]interface{}{"total": live, "scheduled": in.ScheduledFor != nil},
	})

	if in.ScheduledFor != nil && in.ScheduledFor.After(at) {
		return &SubmitResult{Batch: batch}, nil
	}

	// Immediate batch: claim through the same pending -> processing CAS
	// the scheduler uses, then process synchronously.
	if !s.Claim(ctx, batch.BatchID) {
		return &SubmitResult{Batch: batch}, nil
	}
	results, err := s.Process(ctx, batch.BatchID)
	if err != nil {
		return nil, err
	}
	fresh, err := s.Get(ctx, batch.OrgID, batch.BatchID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Batch: fresh, Results: results}, nil
}

// Claim atomically moves a batch from pending to processing. Exactly one
// caller wins; everyone else no-ops. This is the at-most-once gate shared
// by immediate submission and the scheduler.
func (s *Service) Claim(ctx context.Context, batchID uuid.UUID) bool {
	res := s.DB.WithContext(ctx).Model(&domain.Batch{}).
		Where("batch_id = ? AND status = ?", batchID, domain.BatchStatusPending).
		Update("status", domain.BatchStatusProcessing)
	if res.Error != nil {
		log.Error().Err(res.Error).Str("batch_id", batchID.String()).Msg("batch claim failed")
		return false
	}
	return res.RowsAffected == 1
}

// Process runs the per-recipient pipeline for a claimed batch with bounded
// parallelism. The summary is finalized only after every recipient
// resolves.
func (s *Service) Process(ctx context.Context, batchID uuid.UUID) ([]RecipientResult, error) {
	var batch domain.Batch
	if err := s.DB.WithContext(ctx).Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	var queued []domain.BatchRecipient
	if err := s.DB.WithContext(ctx).
		Where("batch_id = ? AND outcome = ?", batchID, domain.RecipientOutcomeQueued).
		Order("position ASC").Find(&queued).Error; err != nil {
		return nil, err
	}

	results := make([]RecipientResult, len(queued))
	var sent, failed int64

	workers := s.Workers
	if workers <= 0 {
		workers = 8
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range queued {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			r := s.processRecipient(ctx, &batch, &queued[i])
			if r.Success {
				atomic.AddInt64(&sent, 1)
			} else {
				atomic.AddInt64(&failed, 1)
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	at := now()
	if err := s.DB.WithContext(ctx).Model(&domain.Batch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]interface{}{
			"status":       domain.BatchStatusCompleted,
			"sent_count":   sent,
			"failed_count": failed,
			"completed_at": at,
		}).Error; err != nil {
		return nil, err
	}
	s.Events.Record(ctx, activity.Event{
		OrgID:   batch.OrgID,
		BatchID: &batch.BatchID,
		Type:    domain.EventBatchCompleted,
		Data:    map[string]interface{}{"sent_count": sent, "failed_count": failed},
	})
	return results, nil
}

// processRecipient runs create -> deliver -> mark sent for one recipient.
// Any failure resolves this recipient only; a created invitation whose
// delivery failed stays pending for an explicit resend.
func (s *Service) processRecipient(ctx context.Context, batch *domain.Batch, row *domain.BatchRecipient) RecipientResult {
	result := RecipientResult{Email: row.Email}

	message := batch.Message
	if row.Message != nil {
		message = row.Message
	}
	inv, err := s.Invitations.Create(ctx, invitations.CreateInput{
		OrgID:         batch.OrgID,
		AreaID:        batch.AreaID,
		Email:         row.Email,
		Role:          batch.Role,
		CustomMessage: message,
		BatchID:       &batch.BatchID,
		ValidityDays:  batch.ValidityDays,
		CreatedBy:     batch.CreatedBy,
	})
	if err != nil {
		result.Error = err.Error()
		s.resolveRecipient(ctx, row, domain.RecipientOutcomeFailed, &result.Error, nil)
		return result
	}
	result.InviteID = &inv.InviteID

	if err := s.deliver(ctx, batch, inv); err != nil {
		// Delivery failure does not advance the invitation to sent and
		// the engine does not auto-retry; resend is the retry path.
		msg := "delivery failed: " + err.Error()
		result.Error = msg
		s.resolveRecipient(ctx, row, domain.RecipientOutcomeFailed, &msg, &inv.InviteID)
		return result
	}
	if _, err := s.Invitations.MarkSent(ctx, inv.InviteID); err != nil {
		log.Warn().Err(err).Str("invite_id", inv.InviteID.String()).Msg("mark sent failed")
	}

	result.Success = true
	s.resolveRecipient(ctx, row, domain.RecipientOutcomeSent, nil, &inv.InviteID)
	return result
}

// deliver renders and sends one invitation email under the per-recipient
// timeout, so one hung delivery cannot stall the batch.
func (s *Service) deliver(ctx context.Context, batch *domain.Batch, inv *domain.Invitation) error {
	if s.Mailer == nil {
		return nil
	}
	timeout := s.MailTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	orgName := ""
	var org domain.Org
	if err := s.DB.WithContext(mctx).Where("org_id = ?", batch.OrgID).First(&org).Error; err == nil {
		orgName = org.OrgName
	}
	msg := ""
	if inv.CustomMessage != nil {
		msg = *inv.CustomMessage
	}
	return s.Mailer.SendInvite(mctx, emails.InviteMail{
		To:            inv.Email,
		InviteLink:    s.InviteBaseURL + "/invitations/accept?token=" + inv.InviteToken,
		OrgName:       orgName,
		Role:          inv.Role,
		CustomMessage: msg,
		ExpiresAt:     inv.ExpiresAt,
	})
}

func (s *Service) resolveRecipient(ctx context.Context, row *domain.BatchRecipient, outcome string, errMsg *string, inviteID *uuid.UUID) {
	updates := map[string]interface{}{"outcome": outcome}
	if errMsg != nil {
		updates["error"] = *errMsg
	}
	if inviteID != nil {
		updates["invite_id"] = *inviteID
	}
	if err := s.DB.WithContext(ctx).Model(&domain.BatchRecipient{}).
		Where("recipient_id = ?", row.RecipientID).
		Updates(updates).Error; err != nil {
		log.Warn().Err(err).Str("batch_id", row.BatchID.String()).Str("email", row.Email).Msg("recipient outcome update failed")
	}
}

// Cancel moves a pending batch to cancelled. Whichever of Cancel and the
// dispatch claim sets a non-pending status first wins; invitations already
// created by an in-flight run are not rolled back and must be cancelled
// individually.
func (s *Service) Cancel(ctx context.Context, orgID, batchID uuid.UUID, caller policies.Caller) (*domain.Batch, error) {
	batch, err := s.Get(ctx, orgID, batchID)
	if err != nil {
		return nil, err
	}
	res := s.DB.WithContext(ctx).Model(&domain.Batch{}).
		Where("batch_id = ? AND status = ?", batchID, domain.BatchStatusPending).
		Update("status", domain.BatchStatusCancelled)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrBatchNotCancellable
	}
	s.Events.Record(ctx, activity.Event{
		OrgID:   batch.OrgID,
		BatchID: &batch.BatchID,
		Type:    domain.EventBatchCancelled,
		Actor:   caller.UserID,
	})
	return s.Get(ctx, orgID, batchID)
}

// Get returns one batch scoped to the org.
func (s *Service) Get(ctx context.Context, orgID, batchID uuid.UUID) (*domain.Batch, error) {
	var batch domain.Batch
	if err := s.DB.WithContext(ctx).
		Where("batch_id = ? AND org_id = ?", batchID, orgID).
		First(&batch).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ListOrgBatches returns an org's batches, newest first.
func (s *Service) ListOrgBatches(ctx context.Context, orgID uuid.UUID) ([]domain.Batch, error) {
	var batches []domain.Batch
	if err := s.DB.WithContext(ctx).Where("org_id = ?", orgID).
		Order("created_at DESC").Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// ListRecipients returns the per-recipient rows for a batch in submission
// order.
func (s *Service) ListRecipients(ctx context.Context, orgID, batchID uuid.UUID) ([]domain.BatchRecipient, error) {
	if _, err := s.Get(ctx, orgID, batchID); err != nil {
		return nil, err
	}
	var rows []domain.BatchRecipient
	if err := s.DB.WithContext(ctx).Where("batch_id = ?", batchID).
		Order("position ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) quotaFor(role string) int {
	if role == constants.Superadmin {
		if s.QuotaSuperadmin > 0 {
			return s.QuotaSuperadmin
		}
		return 500
	}
	if s.QuotaDefault > 0 {
		return s.QuotaDefault
	}
	return 100
}

type normalizedRecipient struct {
	email     string
	message   *string
	duplicate bool
}

// dedupe normalizes addresses and flags repeats within the request;
// duplicates are reported as skipped, not errored.
func dedupe(in []Recipient) []normalizedRecipient {
	seen := make(map[string]bool, len(in))
	out := make([]normalizedRecipient, 0, len(in))
	for _, r := range in {
		email := validation.NormalizeEmail(r.Email)
		if email == "" {
			continue
		}
		nr := normalizedRecipient{email: email, message: r.Message}
		if seen[email] {
			nr.duplicate = true
		}
		seen[email] = true
		out = append(out, nr)
	}
	return out
}
