package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroxblogs/authgate/internal/domain"
)

func seedAdmin(t *testing.T, f *fixture) (accessToken string) {
	t.Helper()
	f.seed(t, "admin-1", "root", "AdminPass123", domain.RoleAdmin)
	access, _, _ := f.login(t, "root", "AdminPass123")
	return access
}

func authedJSON(method, path string, token string, body any) *http.Request {
	req := jsonRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// --- Role guard ---

func TestOperators_RequiresAuthentication(t *testing.T) {
	f := newFixture(t)

	rr := f.do(jsonRequest(http.MethodPost, "/api/v1/operators/", map[string]string{
		"username": "bob",
		"password": "SecurePass123",
	}))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestOperators_OperatorForbidden(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "p1", "alice", "SecurePass123", domain.RoleOperator)
	access, _, _ := f.login(t, "alice", "SecurePass123")

	rr := f.do(authedJSON(http.MethodPost, "/api/v1/operators/", access, map[string]string{
		"username": "bob",
		"password": "SecurePass123",
	}))

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

// --- CreateOperator ---

func TestCreateOperator_AdminSucceeds(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)

	rr := f.do(authedJSON(http.MethodPost, "/api/v1/operators/", access, map[string]string{
		"username": "bob",
		"password": "SecurePass123",
	}))

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Role     string `json:"role"`
			IsActive bool   `json:"isActive"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, "bob", resp.Data.Username)
	assert.Equal(t, "operator", resp.Data.Role)
	assert.True(t, resp.Data.IsActive)

	// The new operator can log in.
	f.login(t, "bob", "SecurePass123")
}

func TestCreateOperator_DuplicateUsername(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)
	f.seed(t, "p1", "bob", "SecurePass123", domain.RoleOperator)

	rr := f.do(authedJSON(http.MethodPost, "/api/v1/operators/", access, map[string]string{
		"username": "bob",
		"password": "SecurePass123",
	}))

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateOperator_WeakPassword(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)

	rr := f.do(authedJSON(http.MethodPost, "/api/v1/operators/", access, map[string]string{
		"username": "bob",
		"password": "short",
	}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// --- SetActive ---

func TestSetActive_DeactivationKillsSession(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)
	f.seed(t, "p1", "alice", "SecurePass123", domain.RoleOperator)
	_, refresh, _ := f.login(t, "alice", "SecurePass123")

	rr := f.do(authedJSON(http.MethodPatch, "/api/v1/operators/p1/active", access, map[string]bool{
		"active": false,
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"isActive":false`)

	// The deactivated operator cannot refresh.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh-token", nil)
	req.Header.Set("X-Refresh-Token", refresh)
	rr = f.do(req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "AUTH_INACTIVE")

	// And cannot log in either.
	loginRR := f.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "alice",
		"password": "SecurePass123",
	}))
	assert.Equal(t, http.StatusUnauthorized, loginRR.Code)
}

func TestSetActive_MissingBodyField(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)
	f.seed(t, "p1", "alice", "SecurePass123", domain.RoleOperator)

	rr := f.do(authedJSON(http.MethodPatch, "/api/v1/operators/p1/active", access, map[string]string{}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetActive_UnknownPrincipal(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)

	rr := f.do(authedJSON(http.MethodPatch, "/api/v1/operators/ghost/active", access, map[string]bool{
		"active": false,
	}))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// --- UpdateCredentials ---

func TestUpdateCredentials_PasswordChangeKeepsSession(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)
	f.seed(t, "p1", "alice", "SecurePass123", domain.RoleOperator)
	_, refresh, _ := f.login(t, "alice", "SecurePass123")

	rr := f.do(authedJSON(http.MethodPut, "/api/v1/operators/p1/credentials", access, map[string]string{
		"password": "EvenMoreSecure456",
	}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Old password stops working.
	loginRR := f.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "alice",
		"password": "SecurePass123",
	}))
	assert.Equal(t, http.StatusUnauthorized, loginRR.Code)

	// The existing session still refreshes.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh-token", nil)
	req.Header.Set("X-Refresh-Token", refresh)
	rr = f.do(req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUpdateCredentials_EmptyBody(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)
	f.seed(t, "p1", "alice", "SecurePass123", domain.RoleOperator)

	rr := f.do(authedJSON(http.MethodPut, "/api/v1/operators/p1/credentials", access, map[string]string{}))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOperators_RejectsNonJSONContentType(t *testing.T) {
	f := newFixture(t)
	access := seedAdmin(t, f)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operators/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set("Content-Type", "text/plain")
	rr := f.do(req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

// --- Full scenario ---

func TestAdminLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	adminAccess := seedAdmin(t, f)

	// Admin creates an operator.
	rr := f.do(authedJSON(http.MethodPost, "/api/v1/operators/", adminAccess, map[string]string{
		"username": "carol",
		"password": "SecurePass123",
	}))
	require.Equal(t, http.StatusCreated, rr.Code)

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	// Operator logs in and verifies.
	carolAccess, carolRefresh, _ := f.login(t, "carol", "SecurePass123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/verify-token", nil)
	req.Header.Set("Authorization", "Bearer "+carolAccess)
	rr = f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	// Operator refreshes; the old refresh token is now spent.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh-token", nil)
	req.Header.Set("X-Refresh-Token", carolRefresh)
	rr = f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh-token", nil)
	req.Header.Set("X-Refresh-Token", carolRefresh)
	rr = f.do(req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Admin deactivates the operator; login is rejected from then on.
	rr = f.do(authedJSON(http.MethodPatch, "/api/v1/operators/"+created.Data.ID+"/active", adminAccess, map[string]bool{
		"active": false,
	}))
	require.Equal(t, http.StatusOK, rr.Code)

	loginRR := f.do(jsonRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": "carol",
		"password": "SecurePass123",
	}))
	assert.Equal(t, http.StatusUnauthorized, loginRR.Code)
}
