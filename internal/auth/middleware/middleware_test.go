package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

func hash(t *testing.T, pw string) string {
	t.Helper()
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(b)
}

func login(t *testing.T, h http.Handler, user, pw string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	body := `{"username":"` + user + `","password":"` + pw + `"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
	out := map[string]string{}
	if rec.Code == http.StatusOK {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	}
	return rec, out
}

func TestLoginRoles(t *testing.T) {
	a := auth.NewAuthService("test-secret")
	h := auth.LoginHandler(a, auth.Credentials{
		AdminUser:       "admin",
		AdminPassHash:   hash(t, "root-pw"),
		StudentPassHash: hash(t, "class-pw"),
	})

	rec, out := login(t, h, "admin", "root-pw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", out["role"])

	rec, out = login(t, h, "alice", "class-pw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student", out["role"])
	c, err := a.Parse(out["access_token"])
	require.NoError(t, err)
	assert.Equal(t, "alice", c.Sub)

	rec, _ = login(t, h, "admin", "class-pw")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = login(t, h, "alice", "alice")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDevLoginWithoutStudentHash(t *testing.T) {
	h := auth.LoginHandler(auth.NewAuthService("s"), auth.Credentials{})
	rec, out := login(t, h, "bob", "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student", out["role"])

	rec, _ = login(t, h, "bob", "nope")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminWithoutHashCannotLogIn(t *testing.T) {
	h := auth.LoginHandler(auth.NewAuthService("s"), auth.Credentials{AdminUser: "admin"})
	for _, pw := range []string{"admin", ""} {
		rec, _ := login(t, h, "admin", pw)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "password %q", pw)
	}
	rec, out := login(t, h, "bob", "bob")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student", out["role"])
}

func TestJWTMiddlewareSetsSubjectAndRole(t *testing.T) {
	a := auth.NewAuthService("test-secret")
	var (
		sub     string
		role    rbac.Role
		ctxSeen context.Context
	)
	h := auth.JWTMiddleware(a)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub = auth.SubjectFromContext(r.Context())
		role = rbac.RoleFromContext(r.Context())
		ctxSeen = r.Context()
	}))

	tok, err := a.IssueJWT("alice", "student")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", sub)
	p, ok := auth.PrincipalFromContext(ctxSeen)
	require.True(t, ok)
	assert.Equal(t, auth.Principal{Subject: "alice", Role: rbac.RoleStudent}, p)
	assert.Equal(t, rbac.RoleStudent, role)

	other, err := auth.NewAuthService("other-secret").IssueJWT("mallory", "admin")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+other)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
