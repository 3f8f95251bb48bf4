package rbac

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	PermTestAuthor      = "test:author"
	PermTestView        = "test:view"
	PermAttemptCreate   = "attempt:create"
	PermAttemptSave     = "attempt:save"
	PermAttemptSubmit   = "attempt:submit"
	PermAttemptViewOwn  = "attempt:view-own"
	PermAttemptViewAll  = "attempt:view-all"
	PermAttemptGrade    = "attempt:grade"
	PermResultsRelease  = "results:release"
	PermGradingViewOwn  = "grading:view-own"
	PermGradingInternal = "grading:internal" // failure reasons, rescore
	PermAnalyticsView   = "analytics:view"   // dashboard and per-test stats
	PermLeaderboardView = "analytics:leaderboard"
)

// RolePermissions is the default policy.
var RolePermissions = map[string][]string{
	RoleUser: {
		PermTestView,
		PermAttemptCreate,
		PermAttemptSave,
		PermAttemptSubmit,
		PermAttemptViewOwn,
		PermGradingViewOwn,
		PermLeaderboardView,
	},
	RoleAdmin: {
		"*", // everything
	},
}
