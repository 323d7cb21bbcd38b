package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crewdeck/crewdeck/internal/app"
	"github.com/crewdeck/crewdeck/internal/authz"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/identity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "integration-test-secret"

type successEnvelope struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func newTestServer(t *testing.T, pool *pgxpool.Pool) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Env:            "dev",
		HTTPAddr:       ":0",
		BaseURL:        "http://localhost",
		DBDSN:          "unused",
		IdPJWTSecret:   testJWTSecret,
		LogLevel:       "error",
		RateLimitRPM:   1000,
		EmailTimeoutMS: 2000,
		InviteTTLDays:  7,
	}

	srv := httptest.NewServer(app.NewRouter(pool, cfg))
	t.Cleanup(srv.Close)
	return srv
}

// seedUser inserts a user row directly, standing in for identity-provider
// provisioning, and returns the user ID with a signed bearer token.
func seedUser(t *testing.T, pool *pgxpool.Pool, email string, role authz.SystemRole) (uuid.UUID, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var userID uuid.UUID
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, system_role) VALUES ($1, $2) RETURNING id
	`, email, role).Scan(&userID)
	require.NoError(t, err)

	token, err := identity.SignToken(userID, email, testJWTSecret, time.Hour)
	require.NoError(t, err)

	return userID, token
}

func doJSON(t *testing.T, method, targetURL, bearer string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, targetURL, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func doJSONExpectData(t *testing.T, method, targetURL, bearer string, wantStatus int, body any) json.RawMessage {
	t.Helper()

	resp, raw := doJSON(t, method, targetURL, bearer, body)
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status: %s", string(raw))

	var env successEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotEmpty(t, env.RequestID)
	return env.Data
}

func doJSONExpectError(t *testing.T, method, targetURL, bearer string, wantStatus int, body any) errorEnvelope {
	t.Helper()

	resp, raw := doJSON(t, method, targetURL, bearer, body)
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status: %s", string(raw))

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotEmpty(t, env.Error.Code)
	return env
}

type inviteResponse struct {
	Invite struct {
		ID          uuid.UUID `json:"id"`
		Email       string    `json:"email"`
		CompanyRole string    `json:"company_role"`
		Status      string    `json:"status"`
		Token       string    `json:"token"`
		AcceptURL   string    `json:"accept_url"`
		EmailSent   bool      `json:"email_sent"`
	} `json:"invite"`
}

func createCompanyAsAdmin(t *testing.T, srvURL, adminToken string, name string, maxSeats int, ownerID uuid.UUID) uuid.UUID {
	t.Helper()

	data := doJSONExpectData(t, http.MethodPost, srvURL+"/api/v1/companies", adminToken, http.StatusCreated, map[string]any{
		"name":          name,
		"industry":      "construction",
		"max_seats":     maxSeats,
		"owner_user_id": ownerID,
	})

	var out struct {
		Company struct {
			ID uuid.UUID `json:"id"`
		} `json:"company"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEqual(t, uuid.Nil, out.Company.ID)
	return out.Company.ID
}

func createProject(t *testing.T, srvURL, token string, companyID uuid.UUID, name string) uuid.UUID {
	t.Helper()

	data := doJSONExpectData(t, http.MethodPost, srvURL+"/api/v1/companies/"+companyID.String()+"/projects", token, http.StatusCreated, map[string]any{
		"name":    name,
		"address": "12 Main St",
	})

	var out struct {
		Project struct {
			ID uuid.UUID `json:"id"`
		} `json:"project"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEqual(t, uuid.Nil, out.Project.ID)
	return out.Project.ID
}

func createInvite(t *testing.T, srvURL, token string, companyID uuid.UUID, body map[string]any) inviteResponse {
	t.Helper()

	data := doJSONExpectData(t, http.MethodPost, srvURL+"/api/v1/companies/"+companyID.String()+"/invites", token, http.StatusCreated, body)

	var out inviteResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.Invite.Token)
	return out
}

func usedSeats(t *testing.T, pool *pgxpool.Pool, companyID uuid.UUID) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var used int
	err := pool.QueryRow(ctx, `
		SELECT used_seats FROM company_subscriptions WHERE company_id = $1 AND is_active
	`, companyID).Scan(&used)
	require.NoError(t, err)
	return used
}

func forceExpire(t *testing.T, pool *pgxpool.Pool, inviteID uuid.UUID) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, `
		UPDATE invitations SET expires_at = NOW() - INTERVAL '1 hour' WHERE id = $1
	`, inviteID)
	require.NoError(t, err)
}
