package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventCompanyCreated          = "company.created"
	EventMemberAdded             = "company.member_added"
	EventMemberDeactivated       = "company.member_deactivated"
	EventSubscriptionSeatsUpdate = "subscription.seats_updated"
	EventInviteCreated           = "invite.created"
	EventInviteResent            = "invite.resent"
	EventInviteCancelled         = "invite.cancelled"
	EventInviteAccepted          = "invite.accepted"
	EventInviteDeclined          = "invite.declined"
	EventProjectCreated          = "project.created"
	EventProjectMemberAssigned   = "project.member_assigned"
	EventSystemRoleGranted       = "user.system_role_granted"
)

// Event represents an audit log entry.
type Event struct {
	ID          uuid.UUID              `db:"id"`
	CompanyID   uuid.NullUUID          `db:"company_id"`
	ProjectID   uuid.NullUUID          `db:"project_id"`
	ActorUserID uuid.NullUUID          `db:"actor_user_id"`
	Action      string                 `db:"action"`
	Meta        map[string]interface{} `db:"meta"`
	CreatedAt   time.Time              `db:"created_at"`
}

// Writer provides methods to write audit log entries. Invitation tokens and
// custom messages are never written to meta.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

// LogParams contains parameters for logging an audit event.
type LogParams struct {
	CompanyID   *uuid.UUID
	ProjectID   *uuid.UUID
	ActorUserID *uuid.UUID
	Action      string
	Meta        map[string]interface{}
}

func (w *Writer) Log(ctx context.Context, params LogParams) error {
	metaJSON := []byte("{}")
	if params.Meta != nil {
		b, err := json.Marshal(params.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query := `
		INSERT INTO audit_log (company_id, project_id, actor_user_id, action, meta)
		VALUES ($1, $2, $3, $4, $5)
	`

	companyID := toNullUUID(params.CompanyID)
	projectID := toNullUUID(params.ProjectID)
	actorUserID := toNullUUID(params.ActorUserID)

	_, err := w.pool.Exec(ctx, query, companyID, projectID, actorUserID, params.Action, metaJSON)
	if err != nil {
		log.Error().Err(err).Str("action", params.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", params.Action).
		Interface("company_id", params.CompanyID).
		Interface("project_id", params.ProjectID).
		Interface("actor_user_id", params.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func (w *Writer) LogCompanyCreated(ctx context.Context, companyID, actorUserID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventCompanyCreated,
		Meta: map[string]interface{}{
			"name": name,
		},
	})
}

func (w *Writer) LogMemberAdded(ctx context.Context, companyID, actorUserID, targetUserID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventMemberAdded,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"role":           role,
		},
	})
}

func (w *Writer) LogMemberDeactivated(ctx context.Context, companyID, actorUserID, targetUserID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventMemberDeactivated,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
		},
	})
}

func (w *Writer) LogSeatsUpdated(ctx context.Context, companyID, actorUserID uuid.UUID, previousMax, newMax int) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventSubscriptionSeatsUpdate,
		Meta: map[string]interface{}{
			"previous_max_seats": previousMax,
			"new_max_seats":      newMax,
		},
	})
}

func (w *Writer) LogInviteCreated(ctx context.Context, companyID, actorUserID, inviteID uuid.UUID, projectID *uuid.UUID, email, role string) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ProjectID:   projectID,
		ActorUserID: &actorUserID,
		Action:      EventInviteCreated,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
			"email":     email,
			"role":      role,
		},
	})
}

func (w *Writer) LogInviteResent(ctx context.Context, companyID, actorUserID, inviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventInviteResent,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
		},
	})
}

func (w *Writer) LogInviteCancelled(ctx context.Context, companyID, actorUserID, inviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventInviteCancelled,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
		},
	})
}

func (w *Writer) LogInviteAccepted(ctx context.Context, companyID, actorUserID, inviteID uuid.UUID, projectID *uuid.UUID) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ProjectID:   projectID,
		ActorUserID: &actorUserID,
		Action:      EventInviteAccepted,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
		},
	})
}

func (w *Writer) LogInviteDeclined(ctx context.Context, companyID, actorUserID, inviteID uuid.UUID) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ActorUserID: &actorUserID,
		Action:      EventInviteDeclined,
		Meta: map[string]interface{}{
			"invite_id": inviteID.String(),
		},
	})
}

func (w *Writer) LogProjectCreated(ctx context.Context, companyID, projectID, actorUserID uuid.UUID, name string) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventProjectCreated,
		Meta: map[string]interface{}{
			"name": name,
		},
	})
}

func (w *Writer) LogProjectMemberAssigned(ctx context.Context, companyID, projectID, actorUserID, targetUserID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		CompanyID:   &companyID,
		ProjectID:   &projectID,
		ActorUserID: &actorUserID,
		Action:      EventProjectMemberAssigned,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"role":           role,
		},
	})
}

// LogSystemRoleGranted records a role grant from the admin CLI; there is no
// acting user.
func (w *Writer) LogSystemRoleGranted(ctx context.Context, targetUserID uuid.UUID, role string) error {
	return w.Log(ctx, LogParams{
		Action: EventSystemRoleGranted,
		Meta: map[string]interface{}{
			"target_user_id": targetUserID.String(),
			"role":           role,
		},
	})
}
