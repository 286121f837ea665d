// Package invitations implements the per-invitation lifecycle:
// pending -> sent -> accepted | cancelled, with expiry derived from
// expires_at at read time. All transitions are applied as a
// compare-and-swap on the previously-read status, so concurrent writers
// on one invitation id resolve deterministically.
package invitations

import (
	"context"
	"time"

	"stratix-backend/internal/application/activity"
	"stratix-backend/internal/application/emails"
	policies "stratix-backend/internal/application/policies/invitations"
	"stratix-backend/internal/application/token"
	"stratix-backend/internal/domain"
	"stratix-backend/internal/infrastructure/database"
	"stratix-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const maxCustomMessageLen = 500

type Service struct {
	DB     *gorm.DB
	Tokens *token.Manager
	Events *activity.Emitter

	// Mailer delivers resend reminders; nil skips delivery.
	Mailer        emails.Sender
	InviteBaseURL string
	MailTimeout   time.Duration
}

// now is swappable in tests.
var now = time.Now

type CreateInput struct {
	OrgID         uuid.UUID
	AreaID        *uuid.UUID
	Email         string
	Role          string
	CustomMessage *string
	BatchID       *uuid.UUID
	ValidityDays  int // 0 = default window
	CreatedBy     string
}

// Create inserts a new invitation with a fresh token and a fixed expiry.
// The active-invitation uniqueness rule is enforced both here and by the
// store's partial unique index, which closes the race between concurrent
// creates for the same recipient.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Invitation, error) {
	email := validation.NormalizeEmail(in.Email)
	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidRecipient
	}
	if in.CustomMessage != nil && len(*in.CustomMessage) > maxCustomMessageLen {
		return nil, ErrMessageTooLong
	}

	at := now()
	expiresAt, err := s.Tokens.ExpiresAt(at, in.ValidityDays)
	if err != nil {
		return nil, err
	}

	// A stale non-terminal row for the same recipient would trip the
	// uniqueness index even though it is no longer active; sweep it first.
	var existing domain.Invitation
	findErr := s.DB.WithContext(ctx).
		Where("org_id = ? AND email = ? AND status IN ?", in.OrgID, email,
			[]string{domain.InviteStatusPending, domain.InviteStatusSent}).
		First(&existing).Error
	if findErr == nil {
		if existing.Active(at) {
			return nil, ErrDuplicateActiveInvitation
		}
		if err := s.sweepExpired(ctx, &existing, at); err != nil {
			return nil, err
		}
	} else if findErr != gorm.ErrRecordNotFound {
		return nil, findErr
	}

	inv := &domain.Invitation{
		OrgID:         in.OrgID,
		AreaID:        in.AreaID,
		Email:         email,
		Role:          in.Role,
		Status:        domain.InviteStatusPending,
		InviteToken:   token.Issue(),
		CustomMessage: in.CustomMessage,
		BatchID:       in.BatchID,
		CreatedBy:     in.CreatedBy,
		ExpiresAt:     expiresAt,
	}
	if err := s.DB.WithContext(ctx).Create(inv).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrDuplicateActiveInvitation
		}
		return nil, err
	}

	s.Events.Record(ctx, activity.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     domain.EventInviteCreated,
		Actor:    in.CreatedBy,
		Data:     map[string]interface{}{"email": inv.Email, "role": inv.Role},
	})
	return inv, nil
}

// MarkSent records that delivery was handed to the mail collaborator.
// Valid only from pending; already-sent is a no-op success so the delivery
// layer may retry safely.
func (s *Service) MarkSent(ctx context.Context, id uuid.UUID) (*domain.Invitation, error) {
	inv, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InviteStatusSent {
		return inv, nil
	}
	if inv.Status != domain.InviteStatusPending {
		return nil, ErrInvalidTransition
	}

	res := s.DB.WithContext(ctx).Model(&domain.Invitation{}).
		Where("invite_id = ? AND status = ?", id, domain.InviteStatusPending).
		Update("status", domain.InviteStatusSent)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race; sent-by-someone-else is still success.
		inv, err = s.getByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if inv.Status == domain.InviteStatusSent {
			return inv, nil
		}
		return nil, ErrConcurrentModification
	}

	inv.Status = domain.InviteStatusSent
	s.Events.Record(ctx, activity.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     domain.EventInviteSent,
		Data:     map[string]interface{}{"email": inv.Email},
	})
	return inv, nil
}

// Resend rotates the token and expiry of an active invitation and bumps
// the reminder bookkeeping. The old token is invalid the instant the
// update lands; a recipient holding a stale link can never redeem it.
func (s *Service) Resend(ctx context.Context, id uuid.UUID, caller policies.Caller) (*domain.Invitation, error) {
	inv, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policies.CanManage(s.DB.WithContext(ctx), caller, inv); err != nil {
		return nil, err
	}
	if inv.Terminal() {
		return nil, ErrInvalidTransition
	}

	at := now()
	expiresAt, err := s.Tokens.ExpiresAt(at, 0)
	if err != nil {
		return nil, err
	}
	newToken := token.Issue()

	res := s.DB.WithContext(ctx).Model(&domain.Invitation{}).
		Where("invite_id = ? AND status = ?", id, inv.Status).
		Updates(map[string]interface{}{
			"invite_token":     newToken,
			"expires_at":       expiresAt,
			"status":           domain.InviteStatusPending,
			"reminder_count":   gorm.Expr("reminder_count + 1"),
			"last_reminder_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.loseTransitionRace(ctx, id)
	}

	inv, err = s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Events.Record(ctx, activity.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     domain.EventReminderSent,
		Actor:    caller.UserID,
		Data:     map[string]interface{}{"email": inv.Email, "reminder_count": inv.ReminderCount},
	})

	s.deliverReminder(ctx, inv)
	return inv, nil
}

// Cancel permanently cancels an active invitation; the token is
// invalidated immediately.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, caller policies.Caller) (*domain.Invitation, error) {
	inv, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policies.CanManage(s.DB.WithContext(ctx), caller, inv); err != nil {
		return nil, err
	}
	if inv.Terminal() {
		return nil, ErrInvalidTransition
	}

	at := now()
	res := s.DB.WithContext(ctx).Model(&domain.Invitation{}).
		Where("invite_id = ? AND status = ?", id, inv.Status).
		Updates(map[string]interface{}{
			"status":       domain.InviteStatusCancelled,
			"cancelled_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, s.loseTransitionRace(ctx, id)
	}

	inv, err = s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Events.Record(ctx, activity.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     domain.EventCancelled,
		Actor:    caller.UserID,
		Data:     map[string]interface{}{"email": inv.Email},
	})
	return inv, nil
}

// Accept redeems an invitation by token. Redeeming an already-accepted
// invitation with the same token returns the original acceptance record,
// so duplicate clicks are safe.
func (s *Service) Accept(ctx context.Context, tok string, acceptedBy string) (*domain.Invitation, error) {
	inv, err := s.getByToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	at := now()
	switch inv.Status {
	case domain.InviteStatusAccepted:
		return inv, nil
	case domain.InviteStatusCancelled:
		// Cancellation invalidates the token immediately.
		return nil, ErrTokenNotFound
	}
	if !at.Before(inv.ExpiresAt) {
		return nil, ErrInvitationExpired
	}
	if acceptedBy == "" {
		// Anonymous redemption is recorded under the invited address.
		acceptedBy = inv.Email
	}

	res := s.DB.WithContext(ctx).Model(&domain.Invitation{}).
		Where("invite_token = ? AND status IN ?", tok,
			[]string{domain.InviteStatusPending, domain.InviteStatusSent}).
		Updates(map[string]interface{}{
			"status":      domain.InviteStatusAccepted,
			"accepted_at": at,
			"accepted_by": acceptedBy,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		inv, err = s.getByToken(ctx, tok)
		if err != nil {
			return nil, err
		}
		switch inv.Status {
		case domain.InviteStatusAccepted:
			return inv, nil
		case domain.InviteStatusCancelled:
			return nil, ErrTokenNotFound
		}
		return nil, ErrConcurrentModification
	}

	inv, err = s.getByToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	s.Events.Record(ctx, activity.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     domain.EventAccepted,
		Actor:    acceptedBy,
		Data:     map[string]interface{}{"email": inv.Email},
	})
	return inv, nil
}

// CheckTokenResult is the public token-preview shape for the acceptance page.
type CheckTokenResult struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	OrgID     string    `json:"org_id"`
	OrgName   string    `json:"org_name"`
	ExpiresAt time.Time `json:"expires_at"`
	Valid     bool      `json:"valid"`
}

// CheckToken validates a token without consuming it.
func (s *Service) CheckToken(ctx context.Context, tok string) (*CheckTokenResult, error) {
	if tok == "" {
		return nil, ErrTokenNotFound
	}
	inv, err := s.getByToken(ctx, tok)
	if err != nil {
		return nil, err
	}
	if inv.Terminal() {
		return nil, ErrTokenNotFound
	}
	if !now().Before(inv.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	orgName := ""
	var org domain.Org
	if err := s.DB.WithContext(ctx).Where("org_id = ?", inv.OrgID).First(&org).Error; err == nil {
		orgName = org.OrgName
	}
	return &CheckTokenResult{
		Email:     inv.Email,
		Role:      inv.Role,
		OrgID:     inv.OrgID.String(),
		OrgName:   orgName,
		ExpiresAt: inv.ExpiresAt,
		Valid:     true,
	}, nil
}

type ListInput struct {
	OrgID    uuid.UUID
	Status   string // stored statuses plus the derived "expired"
	Role     string
	AreaID   *uuid.UUID
	Search   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// Clamp bounds page and page size; zero or out-of-range values fall back
// to the defaults. Handlers call this before building pagination metadata
// so the reported page size matches what List actually used.
func (in *ListInput) Clamp() {
	if in.Page < 1 {
		in.Page = 1
	}
	if in.PageSize < 1 || in.PageSize > 100 {
		in.PageSize = 20
	}
}

// List returns one page of an org's invitations, newest first, with the
// derived expired status applied to both the filter and the returned rows.
func (s *Service) List(ctx context.Context, in ListInput) ([]domain.Invitation, int64, error) {
	in.Clamp()
	at := now()

	q := s.DB.WithContext(ctx).Model(&domain.Invitation{}).Where("org_id = ?", in.OrgID)
	switch in.Status {
	case "":
	case domain.InviteStatusExpired:
		q = q.Where("status IN ? AND expires_at <= ?",
			[]string{domain.InviteStatusPending, domain.InviteStatusSent}, at)
	case domain.InviteStatusPending, domain.InviteStatusSent:
		q = q.Where("status = ? AND expires_at > ?", in.Status, at)
	default:
		q = q.Where("status = ?", in.Status)
	}
	if in.Role != "" {
		q = q.Where("role = ?", in.Role)
	}
	if in.AreaID != nil {
		q = q.Where("area_id = ?", *in.AreaID)
	}
	if in.Search != "" {
		q = q.Where("email LIKE ?", "%"+validation.NormalizeEmail(in.Search)+"%")
	}
	if in.From != nil {
		q = q.Where("created_at >= ?", *in.From)
	}
	if in.To != nil {
		q = q.Where("created_at <= ?", *in.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []domain.Invitation
	if err := q.Order("created_at DESC").
		Offset((in.Page - 1) * in.PageSize).Limit(in.PageSize).
		Find(&items).Error; err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Status = items[i].EffectiveStatus(at)
	}
	return items, total, nil
}

// SweepExpired materializes long-expired pending/sent invitations as
// cancelled for reporting cleanliness. Correctness never depends on it;
// reads derive expiry from expires_at.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	at := now()
	var stale []domain.Invitation
	if err := s.DB.WithContext(ctx).
		Where("status IN ? AND expires_at <= ?",
			[]string{domain.InviteStatusPending, domain.InviteStatusSent}, at).
		Limit(200).Find(&stale).Error; err != nil {
		return 0, err
	}
	swept := 0
	for i := range stale {
		if err := s.sweepExpired(ctx, &stale[i], at); err == nil {
			swept++
		}
	}
	return swept, nil
}

// sweepExpired cancels one expired invitation via CAS and emits the
// expired event. Losing the CAS is fine; someone else moved the row.
func (s *Service) sweepExpired(ctx context.Context, inv *domain.Invitation, at time.Time) error {
	res := s.DB.WithContext(ctx).Model(&domain.Invitation{}).
		Where("invite_id = ? AND status = ?", inv.InviteID, inv.Status).
		Updates(map[string]interface{}{
			"status":       domain.InviteStatusCancelled,
			"cancelled_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentModification
	}
	s.Events.Record(ctx, activity.Event{
		OrgID:    inv.OrgID,
		InviteID: &inv.InviteID,
		BatchID:  inv.BatchID,
		Type:     domain.EventExpired,
		Data:     map[string]interface{}{"email": inv.Email},
	})
	return nil
}

// GetByID returns one invitation by id (delivery-callback lookups).
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invitation, error) {
	return s.getByID(ctx, id)
}

func (s *Service) getByID(ctx context.Context, id uuid.UUID) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := s.DB.WithContext(ctx).Where("invite_id = ?", id).First(&inv).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Service) getByToken(ctx context.Context, tok string) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := s.DB.WithContext(ctx).Where("invite_token = ?", tok).First(&inv).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// loseTransitionRace classifies a zero-rows CAS outcome.
func (s *Service) loseTransitionRace(ctx context.Context, id uuid.UUID) error {
	inv, err := s.getByID(ctx, id)
	if err != nil {
		return err
	}
	if inv.Terminal() {
		return ErrInvalidTransition
	}
	return ErrConcurrentModification
}

// deliverReminder best-effort delivers the rotated invite link. Delivery
// failure leaves the invitation pending; the caller may resend again.
func (s *Service) deliverReminder(ctx context.Context, inv *domain.Invitation) {
	if s.Mailer == nil {
		return
	}
	timeout := s.MailTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	orgName := ""
	var org domain.Org
	if err := s.DB.WithContext(mctx).Where("org_id = ?", inv.OrgID).First(&org).Error; err == nil {
		orgName = org.OrgName
	}
	msg := ""
	if inv.CustomMessage != nil {
		msg = *inv.CustomMessage
	}
	err := s.Mailer.SendInvite(mctx, emails.InviteMail{
		To:            inv.Email,
		InviteLink:    s.InviteBaseURL + "/invitations/accept?token=" + inv.InviteToken,
		OrgName:       orgName,
		Role:          inv.Role,
		CustomMessage: msg,
		Reminder:      true,
		ExpiresAt:     inv.ExpiresAt,
	})
	if err != nil {
		log.Warn().Err(err).Str("invite_id", inv.InviteID.String()).Msg("reminder delivery failed")
		return
	}
	if inv.Status == domain.InviteStatusPending {
		if _, err := s.MarkSent(ctx, inv.InviteID); err != nil {
			log.Warn().Err(err).Str("invite_id", inv.InviteID.String()).Msg("mark sent after reminder failed")
		}
	}
}
