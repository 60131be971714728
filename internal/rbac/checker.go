package rbac

import "strings"

type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Permission names an action on quiz sessions as "quiz:<verb>". A granted
// permission ending in "*" covers every permission with that prefix.
type Permission string

const (
	QuizCreate Permission = "quiz:create"
	QuizSync   Permission = "quiz:sync"
	QuizSave   Permission = "quiz:save"
	QuizSubmit Permission = "quiz:submit"
	QuizList   Permission = "quiz:list"
	QuizView   Permission = "quiz:view"
	QuizAudit  Permission = "quiz:audit"

	// Needed on top of the verb when the session belongs to someone else.
	QuizViewAll  Permission = "quiz:view-all"
	QuizWriteAll Permission = "quiz:write-all"

	QuizAny Permission = "quiz:*"
)

// ForOthers is the permission that lets a caller apply p to another user's
// sessions: reads need QuizViewAll, anything that changes a session needs
// QuizWriteAll.
func (p Permission) ForOthers() Permission {
	switch p {
	case QuizSync, QuizList, QuizView, QuizAudit, QuizViewAll:
		return QuizViewAll
	default:
		return QuizWriteAll
	}
}

type Checker struct {
	RolePermissions map[Role][]Permission
}

func NewChecker(rp map[Role][]Permission) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{RolePermissions: rp}
}

func (c *Checker) Has(role Role, perm Permission) bool {
	for _, p := range c.RolePermissions[role] {
		if matchPerm(p, perm) {
			return true
		}
	}
	return false
}

func matchPerm(granted, perm Permission) bool {
	if granted == "*" || granted == perm {
		return true
	}
	if prefix, ok := strings.CutSuffix(string(granted), "*"); ok {
		return strings.HasPrefix(string(perm), prefix)
	}
	return false
}
