package rbac

// RolePermissions is the default policy. Students act on their own sessions
// only; teachers may read anyone's and audit them; admins hold every quiz
// permission.
var RolePermissions = map[Role][]Permission{
	RoleStudent: {
		QuizCreate,
		QuizSync,
		QuizSave,
		QuizSubmit,
		QuizList,
		QuizView,
	},
	RoleTeacher: {
		QuizSync,
		QuizList,
		QuizView,
		QuizViewAll,
		QuizAudit,
	},
	RoleAdmin: {
		QuizAny,
	},
}
