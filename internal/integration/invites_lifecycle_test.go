package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/crewdeck/crewdeck/internal/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestE2E_InviteLifecycle_AcceptGrantsMemberships(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 3, ownerID)
	require.Equal(t, 1, usedSeats(t, pool, companyID))

	projectID := createProject(t, srv.URL, ownerToken, companyID, "Maple Street Remodel")

	inv := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email":          "Chris@Subs.com",
		"company_role":   "member",
		"project_id":     projectID,
		"project_role":   "contractor",
		"custom_message": "Join us for the Maple Street job.",
	})
	require.Equal(t, "chris@subs.com", inv.Invite.Email)
	require.Equal(t, "pending", inv.Invite.Status)

	// The invitee has never touched the system; their first request is the
	// acceptance itself.
	inviteeID := uuid.New()
	inviteeToken, err := identity.SignToken(inviteeID, "chris@subs.com", testJWTSecret, time.Hour)
	require.NoError(t, err)

	data := doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusOK, map[string]any{
		"token": inv.Invite.Token,
	})

	var accept struct {
		Membership struct {
			CompanyID   uuid.UUID  `json:"company_id"`
			CompanyRole string     `json:"company_role"`
			ProjectID   *uuid.UUID `json:"project_id"`
			ProjectRole *string    `json:"project_role"`
		} `json:"membership"`
	}
	require.NoError(t, json.Unmarshal(data, &accept))
	require.Equal(t, companyID, accept.Membership.CompanyID)
	require.Equal(t, "member", accept.Membership.CompanyRole)
	require.NotNil(t, accept.Membership.ProjectID)
	require.Equal(t, projectID, *accept.Membership.ProjectID)

	require.Equal(t, 2, usedSeats(t, pool, companyID))

	// Accepting twice cannot double-consume a seat.
	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusConflict, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, "conflict", env.Error.Code)
	require.Equal(t, 2, usedSeats(t, pool, companyID))

	// The invitee's resolved permissions cover the company and the project.
	permData := doJSONExpectData(t, http.MethodGet, srv.URL+"/api/v1/me/permissions", inviteeToken, http.StatusOK, nil)
	var perms struct {
		Permissions struct {
			Companies []struct {
				CompanyID uuid.UUID `json:"company_id"`
				Role      string    `json:"role"`
			} `json:"company_permissions"`
			Projects []struct {
				ProjectID uuid.UUID `json:"project_id"`
				Role      string    `json:"role"`
			} `json:"project_permissions"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(permData, &perms))
	require.Len(t, perms.Permissions.Companies, 1)
	require.Equal(t, companyID, perms.Permissions.Companies[0].CompanyID)
	require.Equal(t, "member", perms.Permissions.Companies[0].Role)
	require.Len(t, perms.Permissions.Projects, 1)
	require.Equal(t, projectID, perms.Permissions.Projects[0].ProjectID)
	require.Equal(t, "contractor", perms.Permissions.Projects[0].Role)

	// Audit trail records creation and acceptance, never the token.
	auditData := doJSONExpectData(t, http.MethodGet, srv.URL+"/api/v1/companies/"+companyID.String()+"/audit", ownerToken, http.StatusOK, nil)
	var auditOut struct {
		Events []struct {
			Action string         `json:"action"`
			Meta   map[string]any `json:"meta"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(auditData, &auditOut))

	actions := make(map[string]bool)
	for _, ev := range auditOut.Events {
		actions[ev.Action] = true
		for k, v := range ev.Meta {
			if s, ok := v.(string); ok {
				require.NotContains(t, s, inv.Invite.Token, "audit meta %q leaked the invite token", k)
			}
		}
	}
	require.True(t, actions["invite.created"], "missing invite.created audit event")
	require.True(t, actions["invite.accepted"], "missing invite.accepted audit event")
}

func TestE2E_InviteDecline_LeavesNoMembership(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	_, inviteeToken := seedUser(t, pool, "dana@subs.com", authz.SystemRoleContractor)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 3, ownerID)

	inv := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email": "dana@subs.com",
	})

	doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/decline", inviteeToken, http.StatusOK, map[string]any{
		"token": inv.Invite.Token,
	})

	require.Equal(t, 1, usedSeats(t, pool, companyID))

	// Declining is terminal; the token cannot be replayed into an acceptance.
	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusConflict, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, "conflict", env.Error.Code)

	// The invitee gained nothing.
	permData := doJSONExpectData(t, http.MethodGet, srv.URL+"/api/v1/me/permissions", inviteeToken, http.StatusOK, nil)
	var perms struct {
		Permissions struct {
			Companies []any `json:"company_permissions"`
		} `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(permData, &perms))
	require.Empty(t, perms.Permissions.Companies)
}

func TestE2E_InviteEmailBinding(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	_, intruderToken := seedUser(t, pool, "intruder@other.com", authz.SystemRoleContractor)
	_, inviteeToken := seedUser(t, pool, "chris@subs.com", authz.SystemRoleContractor)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 3, ownerID)

	inv := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email": "chris@subs.com",
	})

	// A different authenticated user holding the token is refused and the
	// invitation stays live.
	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", intruderToken, http.StatusForbidden, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, "forbidden", env.Error.Code)
	require.Equal(t, 1, usedSeats(t, pool, companyID))

	// Email comparison is case-insensitive; the rightful invitee gets in.
	doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusOK, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, 2, usedSeats(t, pool, companyID))
}

func TestE2E_InviteUnknownToken(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, token := seedUser(t, pool, "anyone@example.com", authz.SystemRoleContractor)

	for _, bad := range []string{"cdi_not-a-real-token", "garbage"} {
		env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", token, http.StatusNotFound, map[string]any{
			"token": bad,
		})
		require.Equal(t, "not_found", env.Error.Code)
	}
}

func TestE2E_InviteExpiryAndResend(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	_, inviteeToken := seedUser(t, pool, "late@subs.com", authz.SystemRoleContractor)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 3, ownerID)

	inv := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email": "late@subs.com",
	})

	// Deadline passes without any sweep running.
	forceExpire(t, pool, inv.Invite.ID)

	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusGone, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, "gone", env.Error.Code)

	// The listing reports the derived status.
	listData := doJSONExpectData(t, http.MethodGet, srv.URL+"/api/v1/companies/"+companyID.String()+"/invites", ownerToken, http.StatusOK, nil)
	var list struct {
		Invites []struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"invites"`
	}
	require.NoError(t, json.Unmarshal(listData, &list))
	require.Len(t, list.Invites, 1)
	require.Equal(t, "expired", list.Invites[0].Status)

	// Resending reissues the token and reopens the invitation.
	resendData := doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/companies/"+companyID.String()+"/invites/"+inv.Invite.ID.String()+"/resend", ownerToken, http.StatusOK, nil)
	var resent inviteResponse
	require.NoError(t, json.Unmarshal(resendData, &resent))
	require.NotEqual(t, inv.Invite.Token, resent.Invite.Token)
	require.Equal(t, "pending", resent.Invite.Status)

	// The superseded token is dead.
	env = doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusNotFound, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, "not_found", env.Error.Code)

	// The reissued one works.
	doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusOK, map[string]any{
		"token": resent.Invite.Token,
	})
}

func TestE2E_InviteSupersede(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	_, inviteeToken := seedUser(t, pool, "twice@subs.com", authz.SystemRoleContractor)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 3, ownerID)

	first := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email": "twice@subs.com",
	})
	second := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email": "twice@subs.com",
	})

	// The first invitation was cancelled by the second; its token resolves
	// to an already-settled invitation.
	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusConflict, map[string]any{
		"token": first.Invite.Token,
	})
	require.Equal(t, "conflict", env.Error.Code)

	doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusOK, map[string]any{
		"token": second.Invite.Token,
	})
	require.Equal(t, 2, usedSeats(t, pool, companyID))
}

func TestE2E_SeatLimitEnforcedAtAccept(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	firstID, firstToken := seedUser(t, pool, "first@subs.com", authz.SystemRoleContractor)
	_, secondToken := seedUser(t, pool, "second@subs.com", authz.SystemRoleContractor)

	// Two seats; the owner already holds one.
	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Tiny Crew", 2, ownerID)

	// Both invitations are created while a seat is free.
	invFirst := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{"email": "first@subs.com"})
	invSecond := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{"email": "second@subs.com"})

	doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", firstToken, http.StatusOK, map[string]any{
		"token": invFirst.Invite.Token,
	})
	require.Equal(t, 2, usedSeats(t, pool, companyID))

	// The slower invitee loses: capacity is authoritative at accept time.
	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", secondToken, http.StatusConflict, map[string]any{
		"token": invSecond.Invite.Token,
	})
	require.Equal(t, "seat_limit_reached", env.Error.Code)

	// A failed acceptance leaves the invitation pending; freeing a seat lets
	// the same token succeed.
	doJSONExpectData(t, http.MethodDelete, srv.URL+"/api/v1/companies/"+companyID.String()+"/members/"+firstID.String(), ownerToken, http.StatusOK, nil)
	require.Equal(t, 1, usedSeats(t, pool, companyID))

	doJSONExpectData(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", secondToken, http.StatusOK, map[string]any{
		"token": invSecond.Invite.Token,
	})
	require.Equal(t, 2, usedSeats(t, pool, companyID))
}

// raceOutcome carries a response back from a racing goroutine; assertions stay
// on the test goroutine.
type raceOutcome struct {
	status int
	body   []byte
	err    error
}

func raceJSON(method, targetURL, bearer string, payload []byte) raceOutcome {
	req, err := http.NewRequest(method, targetURL, bytes.NewReader(payload))
	if err != nil {
		return raceOutcome{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return raceOutcome{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return raceOutcome{err: err}
	}
	return raceOutcome{status: resp.StatusCode, body: raw}
}

func TestE2E_ConcurrentAcceptSingleWinner(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	_, inviteeToken := seedUser(t, pool, "race@subs.com", authz.SystemRoleContractor)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 5, ownerID)
	inv := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{"email": "race@subs.com"})

	payload, err := json.Marshal(map[string]any{"token": inv.Invite.Token})
	require.NoError(t, err)

	results := make(chan raceOutcome, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			results <- raceJSON(http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, payload)
		}()
	}
	close(start)

	byStatus := make(map[int][]byte, 2)
	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		byStatus[out.status] = out.body
	}

	// The row lock serializes the two transactions: exactly one winner, the
	// loser sees an already-settled invitation.
	require.Contains(t, byStatus, http.StatusOK)
	require.Contains(t, byStatus, http.StatusConflict)

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(byStatus[http.StatusConflict], &env))
	require.Equal(t, "conflict", env.Error.Code)

	// One seat consumed, one membership row gained.
	require.Equal(t, 2, usedSeats(t, pool, companyID))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var memberships int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM company_memberships WHERE company_id = $1
	`, companyID).Scan(&memberships))
	require.Equal(t, 2, memberships)
}

func TestE2E_ConcurrentCreateLeavesOnePending(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 5, ownerID)

	payload, err := json.Marshal(map[string]any{"email": "dup@subs.com"})
	require.NoError(t, err)

	results := make(chan raceOutcome, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			results <- raceJSON(http.MethodPost, srv.URL+"/api/v1/companies/"+companyID.String()+"/invites", ownerToken, payload)
		}()
	}
	close(start)

	// When the writes serialize, the later one supersedes and both succeed.
	// When they overlap, the partial unique index rejects the second insert.
	created := 0
	for i := 0; i < 2; i++ {
		out := <-results
		require.NoError(t, out.err)
		switch out.status {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			var env errorEnvelope
			require.NoError(t, json.Unmarshal(out.body, &env))
			require.Equal(t, "conflict", env.Error.Code)
		default:
			t.Fatalf("unexpected status %d: %s", out.status, string(out.body))
		}
	}
	require.GreaterOrEqual(t, created, 1)

	// Either way the target never ends up with two live invitations.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var pending int
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM invitations
		WHERE company_id = $1 AND email = 'dup@subs.com' AND status = 'pending'
	`, companyID).Scan(&pending))
	require.Equal(t, 1, pending)
}

func TestE2E_InviteCancel(t *testing.T) {
	pool, cleanup := newTestDB(t)
	t.Cleanup(cleanup)
	srv := newTestServer(t, pool)

	_, adminToken := seedUser(t, pool, "root@crewdeck.io", authz.SystemRoleSuperAdmin)
	ownerID, ownerToken := seedUser(t, pool, "owner@acme.com", authz.SystemRoleProjectManager)
	_, inviteeToken := seedUser(t, pool, "gone@subs.com", authz.SystemRoleContractor)

	companyID := createCompanyAsAdmin(t, srv.URL, adminToken, "Acme Builders", 3, ownerID)

	inv := createInvite(t, srv.URL, ownerToken, companyID, map[string]any{
		"email": "gone@subs.com",
	})

	doJSONExpectData(t, http.MethodDelete, srv.URL+"/api/v1/companies/"+companyID.String()+"/invites/"+inv.Invite.ID.String(), ownerToken, http.StatusOK, nil)

	env := doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/invites/accept", inviteeToken, http.StatusConflict, map[string]any{
		"token": inv.Invite.Token,
	})
	require.Equal(t, "conflict", env.Error.Code)

	// Cancelling twice is rejected, and a settled invitation can't be resent.
	doJSONExpectError(t, http.MethodDelete, srv.URL+"/api/v1/companies/"+companyID.String()+"/invites/"+inv.Invite.ID.String(), ownerToken, http.StatusConflict, nil)
	doJSONExpectError(t, http.MethodPost, srv.URL+"/api/v1/companies/"+companyID.String()+"/invites/"+inv.Invite.ID.String()+"/resend", ownerToken, http.StatusConflict, nil)
}
