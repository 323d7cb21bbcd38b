package invites

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/crewdeck/crewdeck/internal/notify"
	"github.com/crewdeck/crewdeck/internal/users"
	"github.com/crewdeck/crewdeck/internal/validation"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrCompanyNotFound is returned when the target company does not exist
var ErrCompanyNotFound = errors.New("company not found")

const pendingUniqueIndex = "invitations_one_pending"

// Service orchestrates the invitation lifecycle. Permission preconditions are
// checked at the gateway; every state transition here runs in one transaction
// so a partial failure is never observable.
type Service struct {
	pool    *pgxpool.Pool
	mailer  *notify.Mailer
	baseURL string
	ttl     time.Duration
}

// NewService creates a new invitation service
func NewService(pool *pgxpool.Pool, mailer *notify.Mailer, baseURL string, ttlDays int) *Service {
	return &Service{
		pool:    pool,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     time.Duration(ttlDays) * 24 * time.Hour,
	}
}

// AcceptURL builds the link embedded in invitation emails. The token appears
// only as an opaque query-string value.
func (s *Service) AcceptURL(token string) string {
	return s.baseURL + "/invites/accept?token=" + url.QueryEscape(token)
}

const invitationColumns = `id, company_id, project_id, email, company_role, project_role,
	invited_by_user_id, custom_message, status, expires_at, created_at, updated_at`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var inv Invitation
	err := row.Scan(
		&inv.ID,
		&inv.CompanyID,
		&inv.ProjectID,
		&inv.Email,
		&inv.CompanyRole,
		&inv.ProjectRole,
		&inv.InvitedByUserID,
		&inv.CustomMessage,
		&inv.Status,
		&inv.ExpiresAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to scan invitation: %w", err)
	}
	return &inv, nil
}

// CreateParams are the inputs for creating an invitation.
type CreateParams struct {
	CompanyID     uuid.UUID
	Email         string
	CompanyRole   authz.CompanyRole
	ProjectID     *uuid.UUID
	ProjectRole   *authz.ProjectRole
	InvitedBy     uuid.UUID
	CustomMessage string
}

// Create mints a pending invitation. An existing pending invitation for the
// same (email, company, project) target is superseded: cancelled and replaced
// in the same transaction. The notification email is dispatched after commit
// and never rolls the invitation back; the returned flag reports delivery.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Invitation, string, bool, error) {
	email, err := validation.NormalizeEmail(params.Email)
	if err != nil {
		return nil, "", false, err
	}

	if !params.CompanyRole.IsValid() {
		return nil, "", false, ErrInvalidCompanyRole
	}
	if (params.ProjectID == nil) != (params.ProjectRole == nil) {
		return nil, "", false, ErrProjectRoleRequired
	}
	if params.ProjectRole != nil && !params.ProjectRole.IsValid() {
		return nil, "", false, ErrInvalidProjectRole
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var companyName string
	err = tx.QueryRow(ctx, `SELECT name FROM companies WHERE id = $1`, params.CompanyID).Scan(&companyName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", false, ErrCompanyNotFound
		}
		return nil, "", false, fmt.Errorf("failed to load company: %w", err)
	}

	var projectName string
	if params.ProjectID != nil {
		var projectCompanyID uuid.UUID
		err = tx.QueryRow(ctx, `SELECT company_id, name FROM projects WHERE id = $1`, *params.ProjectID).
			Scan(&projectCompanyID, &projectName)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, "", false, ErrProjectNotInCompany
			}
			return nil, "", false, fmt.Errorf("failed to load project: %w", err)
		}
		if projectCompanyID != params.CompanyID {
			return nil, "", false, ErrProjectNotInCompany
		}
	}

	// Check-only capacity read. Creation never holds a seat; the guarded
	// increment at accept time is the authoritative check.
	var hasFreeSeat bool
	err = tx.QueryRow(ctx, `
		SELECT used_seats < max_seats
		FROM company_subscriptions
		WHERE company_id = $1 AND is_active
	`, params.CompanyID).Scan(&hasFreeSeat)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", false, fmt.Errorf("company %s has no active subscription", params.CompanyID)
		}
		return nil, "", false, fmt.Errorf("failed to check seat capacity: %w", err)
	}
	if !hasFreeSeat {
		return nil, "", false, ErrSeatLimitReached
	}

	var inviterEmail string
	err = tx.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, params.InvitedBy).Scan(&inviterEmail)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to load inviter: %w", err)
	}

	// Supersede any pending invitation for the same target.
	_, err = tx.Exec(ctx, `
		UPDATE invitations
		SET status = $4, resolved_at = NOW(), resolved_by_user_id = $5, updated_at = NOW()
		WHERE company_id = $1
		  AND email = $2
		  AND COALESCE(project_id, '00000000-0000-0000-0000-000000000000'::uuid) = COALESCE($3, '00000000-0000-0000-0000-000000000000'::uuid)
		  AND status = $6
	`, params.CompanyID, email, params.ProjectID, StatusCancelled, params.InvitedBy, StatusPending)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to supersede existing invitations: %w", err)
	}

	var invite *Invitation
	var token string
	for attempt := 0; attempt < 3; attempt++ {
		var tokenHash []byte
		token, tokenHash, err = GenerateToken()
		if err != nil {
			return nil, "", false, err
		}

		expiresAt := time.Now().UTC().Add(s.ttl)

		invite, err = scanInvitation(tx.QueryRow(ctx, `
			INSERT INTO invitations (
			  company_id, project_id, email, company_role, project_role,
			  token_hash, invited_by_user_id, custom_message, expires_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING `+invitationColumns,
			params.CompanyID,
			params.ProjectID,
			email,
			params.CompanyRole,
			params.ProjectRole,
			tokenHash,
			params.InvitedBy,
			params.CustomMessage,
			expiresAt,
		))
		if err == nil {
			break
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == pendingUniqueIndex {
				// A concurrent creation for the same target won the race.
				return nil, "", false, ErrDuplicatePending
			}
			// Token hash collision (extremely unlikely); retry.
			continue
		}
		return nil, "", false, fmt.Errorf("failed to create invitation: %w", err)
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to create invitation: token collision retry exhausted")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	emailSent := s.mailer.SendInvite(ctx, notify.InviteEmail{
		To:            invite.Email,
		CompanyName:   companyName,
		ProjectName:   projectName,
		InviterEmail:  inviterEmail,
		CustomMessage: invite.CustomMessage,
		AcceptURL:     s.AcceptURL(token),
		ExpiresAt:     invite.ExpiresAt,
	})

	return invite, token, emailSent, nil
}

// List retrieves a company's invitations, newest first, with the lazily
// derived effective status.
func (s *Service) List(ctx context.Context, companyID uuid.UUID) ([]ListItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
		  i.id,
		  i.email,
		  i.company_role,
		  i.project_id,
		  i.project_role,
		  i.status,
		  i.expires_at,
		  i.created_at,
		  u.email AS invited_by
		FROM invitations i
		INNER JOIN users u ON u.id = i.invited_by_user_id
		WHERE i.company_id = $1
		ORDER BY i.created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()

	var items []ListItem
	for rows.Next() {
		var item ListItem
		if err := rows.Scan(
			&item.ID,
			&item.Email,
			&item.CompanyRole,
			&item.ProjectID,
			&item.ProjectRole,
			&item.Status,
			&item.ExpiresAt,
			&item.CreatedAt,
			&item.InvitedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}

		if item.Status == StatusPending && now.After(item.ExpiresAt) {
			item.Status = StatusExpired
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invitations: %w", err)
	}

	return items, nil
}

// Resend reissues a pending (or lapsed) invitation: new token, new deadline,
// fresh email. Resolved invitations fail with ErrInvalidState.
func (s *Service) Resend(ctx context.Context, companyID, inviteID, actorUserID uuid.UUID) (*Invitation, string, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	invite, err := scanInvitation(tx.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, inviteID, companyID))
	if err != nil {
		return nil, "", false, err
	}

	if !invite.Status.CanTransitionTo(StatusPending) && invite.Status != StatusPending {
		return nil, "", false, ErrInvalidState
	}

	var token string
	for attempt := 0; attempt < 3; attempt++ {
		var tokenHash []byte
		token, tokenHash, err = GenerateToken()
		if err != nil {
			return nil, "", false, err
		}

		expiresAt := time.Now().UTC().Add(s.ttl)

		// The old token hash is overwritten; it stops matching immediately.
		_, err = tx.Exec(ctx, `
			UPDATE invitations
			SET token_hash = $2, expires_at = $3, status = $4, updated_at = NOW()
			WHERE id = $1
		`, invite.ID, tokenHash, expiresAt, StatusPending)
		if err == nil {
			invite.Status = StatusPending
			invite.ExpiresAt = expiresAt
			break
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == pendingUniqueIndex {
				// A newer pending invitation for the same target exists.
				return nil, "", false, ErrDuplicatePending
			}
			continue
		}
		return nil, "", false, fmt.Errorf("failed to reissue invitation: %w", err)
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to reissue invitation: token collision retry exhausted")
	}

	companyName, projectName, inviterEmail, err := s.loadEmailContext(ctx, tx, invite)
	if err != nil {
		return nil, "", false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	emailSent := s.mailer.SendInvite(ctx, notify.InviteEmail{
		To:            invite.Email,
		CompanyName:   companyName,
		ProjectName:   projectName,
		InviterEmail:  inviterEmail,
		CustomMessage: invite.CustomMessage,
		AcceptURL:     s.AcceptURL(token),
		ExpiresAt:     invite.ExpiresAt,
	})

	return invite, token, emailSent, nil
}

func (s *Service) loadEmailContext(ctx context.Context, tx pgx.Tx, invite *Invitation) (companyName, projectName, inviterEmail string, err error) {
	if err = tx.QueryRow(ctx, `SELECT name FROM companies WHERE id = $1`, invite.CompanyID).Scan(&companyName); err != nil {
		return "", "", "", fmt.Errorf("failed to load company: %w", err)
	}
	if invite.ProjectID != nil {
		if err = tx.QueryRow(ctx, `SELECT name FROM projects WHERE id = $1`, *invite.ProjectID).Scan(&projectName); err != nil {
			return "", "", "", fmt.Errorf("failed to load project: %w", err)
		}
	}
	if err = tx.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, invite.InvitedByUserID).Scan(&inviterEmail); err != nil {
		return "", "", "", fmt.Errorf("failed to load inviter: %w", err)
	}
	return companyName, projectName, inviterEmail, nil
}

// Cancel withdraws a pending (or lapsed) invitation.
func (s *Service) Cancel(ctx context.Context, companyID, inviteID, actorUserID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var status Status
	err = tx.QueryRow(ctx, `
		SELECT status FROM invitations
		WHERE id = $1 AND company_id = $2
		FOR UPDATE
	`, inviteID, companyID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInviteNotFound
		}
		return fmt.Errorf("failed to load invitation: %w", err)
	}

	if !status.CanTransitionTo(StatusCancelled) {
		return ErrInvalidState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE invitations
		SET status = $2, resolved_at = NOW(), resolved_by_user_id = $3, updated_at = NOW()
		WHERE id = $1
	`, inviteID, StatusCancelled, actorUserID); err != nil {
		return fmt.Errorf("failed to cancel invitation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// AcceptResult describes the memberships granted by a successful acceptance.
type AcceptResult struct {
	InviteID    uuid.UUID          `json:"invite_id"`
	CompanyID   uuid.UUID          `json:"company_id"`
	CompanyRole authz.CompanyRole  `json:"company_role"`
	ProjectID   *uuid.UUID         `json:"project_id,omitempty"`
	ProjectRole *authz.ProjectRole `json:"project_role,omitempty"`
}

// Accept redeems an invitation token for the authenticated caller. The user
// row, memberships, seat increment and status change commit as one unit;
// concurrent accepts on the same token produce exactly one winner.
func (s *Service) Accept(ctx context.Context, token string, userID uuid.UUID, userEmail string) (*AcceptResult, error) {
	invite, tx, err := s.lockByToken(ctx, token, userEmail)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Callers may reach us before any other endpoint has provisioned them.
	if err := users.EnsureInTx(ctx, tx, userID, userEmail); err != nil {
		return nil, err
	}

	var memberIsActive bool
	memberExists := true
	err = tx.QueryRow(ctx, `
		SELECT is_active FROM company_memberships
		WHERE company_id = $1 AND user_id = $2
		FOR UPDATE
	`, invite.CompanyID, userID).Scan(&memberIsActive)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to load membership: %w", err)
		}
		memberExists = false
	}

	// A new active membership consumes a seat; re-accepting into an already
	// active membership does not. The guarded update is the authoritative
	// capacity check, regardless of what creation-time saw.
	if !memberExists || !memberIsActive {
		tag, err := tx.Exec(ctx, `
			UPDATE company_subscriptions
			SET used_seats = used_seats + 1, updated_at = NOW()
			WHERE company_id = $1 AND is_active AND used_seats < max_seats
		`, invite.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("failed to consume seat: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrSeatLimitReached
		}
	}

	switch {
	case !memberExists:
		if _, err := tx.Exec(ctx, `
			INSERT INTO company_memberships (company_id, user_id, company_role)
			VALUES ($1, $2, $3)
		`, invite.CompanyID, userID, invite.CompanyRole); err != nil {
			return nil, fmt.Errorf("failed to create membership: %w", err)
		}
	case !memberIsActive:
		if _, err := tx.Exec(ctx, `
			UPDATE company_memberships
			SET is_active = TRUE, company_role = $3, updated_at = NOW()
			WHERE company_id = $1 AND user_id = $2
		`, invite.CompanyID, userID, invite.CompanyRole); err != nil {
			return nil, fmt.Errorf("failed to reactivate membership: %w", err)
		}
	}

	if invite.ProjectID != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO project_memberships (project_id, user_id, project_role)
			VALUES ($1, $2, $3)
			ON CONFLICT (project_id, user_id) DO UPDATE SET project_role = EXCLUDED.project_role, updated_at = NOW()
		`, *invite.ProjectID, userID, *invite.ProjectRole); err != nil {
			return nil, fmt.Errorf("failed to create project membership: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE invitations
		SET status = $2, resolved_at = NOW(), resolved_by_user_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, invite.ID, StatusAccepted, userID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInviteAlreadyResolved
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &AcceptResult{
		InviteID:    invite.ID,
		CompanyID:   invite.CompanyID,
		CompanyRole: invite.CompanyRole,
		ProjectID:   invite.ProjectID,
		ProjectRole: invite.ProjectRole,
	}, nil
}

// Decline turns down an invitation. Same validity checks as Accept; no
// membership or seat mutation.
func (s *Service) Decline(ctx context.Context, token string, userID uuid.UUID, userEmail string) (*Invitation, error) {
	invite, tx, err := s.lockByToken(ctx, token, userEmail)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE invitations
		SET status = $2, resolved_at = NOW(), resolved_by_user_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, invite.ID, StatusDeclined, userID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation declined: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrInviteAlreadyResolved
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	invite.Status = StatusDeclined
	return invite, nil
}

// lockByToken opens a transaction, locks the invitation the token refers to
// and runs the shared validity checks: token match, use-time expiry, terminal
// status, bearer email. On success the caller owns the open transaction.
func (s *Service) lockByToken(ctx context.Context, token, userEmail string) (*Invitation, pgx.Tx, error) {
	if !ValidateTokenFormat(token) {
		return nil, nil, ErrInviteNotFound
	}
	tokenHash := HashToken(token)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	invite, err := scanInvitation(tx.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM invitations
		WHERE token_hash = $1
		FOR UPDATE
	`, tokenHash))
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}

	// Expiry is a use-time condition derived from expires_at; the stored
	// status may still read pending.
	switch invite.EffectiveStatus(time.Now().UTC()) {
	case StatusPending:
	case StatusExpired:
		_ = tx.Rollback(ctx)
		return nil, nil, ErrInviteExpired
	default:
		_ = tx.Rollback(ctx)
		return nil, nil, ErrInviteAlreadyResolved
	}

	if !strings.EqualFold(userEmail, invite.Email) {
		_ = tx.Rollback(ctx)
		return nil, nil, ErrInviteEmailMismatch
	}

	return invite, tx, nil
}

// ExpireLapsed rewrites lapsed pending invitations to their derived expired
// status. Reporting only; accept/decline/resend never depend on it.
func (s *Service) ExpireLapsed(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invitations
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at <= NOW()
	`, StatusExpired, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to expire lapsed invitations: %w", err)
	}
	return tag.RowsAffected(), nil
}
