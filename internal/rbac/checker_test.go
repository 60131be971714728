package rbac_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

func TestCheckerPatterns(t *testing.T) {
	c := rbac.NewChecker(map[rbac.Role][]rbac.Permission{
		"grader": {"quiz:view-*"},
		"root":   {"*"},
	})
	assert.True(t, c.Has("grader", rbac.QuizViewAll))
	assert.False(t, c.Has("grader", rbac.QuizWriteAll))
	assert.True(t, c.Has("root", "anything"))
	assert.False(t, c.Has("nobody", rbac.QuizSync))
}

func TestDefaultPolicy(t *testing.T) {
	c := rbac.NewChecker(nil)
	assert.True(t, c.Has(rbac.RoleStudent, rbac.QuizSubmit))
	assert.False(t, c.Has(rbac.RoleStudent, rbac.QuizViewAll))
	assert.True(t, c.Has(rbac.RoleTeacher, rbac.QuizViewAll))
	assert.False(t, c.Has(rbac.RoleTeacher, rbac.QuizSubmit))
	assert.False(t, c.Has(rbac.RoleTeacher, rbac.QuizWriteAll))
	assert.True(t, c.Has(rbac.RoleAdmin, rbac.QuizWriteAll))
	assert.True(t, c.Has(rbac.RoleAdmin, rbac.QuizAudit))
	assert.False(t, c.Has(rbac.RoleAdmin, "users:list"), "admin is scoped to quiz permissions")
}

func TestForOthers(t *testing.T) {
	for perm, want := range map[rbac.Permission]rbac.Permission{
		rbac.QuizSync:   rbac.QuizViewAll,
		rbac.QuizList:   rbac.QuizViewAll,
		rbac.QuizView:   rbac.QuizViewAll,
		rbac.QuizCreate: rbac.QuizWriteAll,
		rbac.QuizSave:   rbac.QuizWriteAll,
		rbac.QuizSubmit: rbac.QuizWriteAll,
	} {
		assert.Equal(t, want, perm.ForOthers(), "%s", perm)
	}
}

func TestRequire(t *testing.T) {
	h := rbac.Require(rbac.QuizCreate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for role, want := range map[rbac.Role]int{
		rbac.RoleStudent: http.StatusOK,
		rbac.RoleTeacher: http.StatusForbidden,
		"":               http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(rbac.WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "role %q", role)
	}
}

func TestAllowed(t *testing.T) {
	assert.False(t, rbac.Allowed(context.Background(), rbac.QuizSync))
	assert.True(t, rbac.Allowed(rbac.WithRole(context.Background(), rbac.RoleTeacher), rbac.QuizViewAll))
}
