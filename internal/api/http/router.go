package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/cache"
	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/logging"
	"github.com/mind-engage/mindengage-quiz/internal/queue"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

// JobStatuses reports grading job state. *queue.Queue implements it.
type JobStatuses interface {
	GetStatus(ctx context.Context, attemptID string) (queue.Status, error)
}

type Deps struct {
	Service *quiz.Service
	Gate    *release.Gate
	Jobs    JobStatuses // nil when grading runs inline
	Events  *eventlog.Repo
	Cache   *cache.Cache
	Auth    *authmw.AuthService
	Login   *authmw.LocalLogin // nil disables POST /auth/login
	Guests  bool               // enables POST /auth/guest

	CORSOrigins []string
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.AccessLog, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if d.Login != nil {
		r.Post("/auth/login", authmw.LoginHandler(d.Auth, *d.Login))
	}
	if d.Guests {
		r.Post("/auth/guest", authmw.GuestLoginHandler(d.Auth))
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", ReadyHandler(d.Service.Store(), d.Cache))

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))

		pr.With(rbac.Require(rbac.PermTestAuthor)).
			Post("/tests", PutTestHandler(d.Service, d.Gate))
		pr.With(rbac.Require(rbac.PermTestView)).
			Get("/tests/{testID}", GetTestHandler(d.Service))
		pr.With(rbac.Require(rbac.PermResultsRelease)).
			Post("/tests/{testID}/release-results", ReleaseTestHandler(d.Gate))

		// Student flow
		pr.With(rbac.Require(rbac.PermAttemptCreate)).
			Post("/attempts", CreateAttemptHandler(d.Service))
		pr.With(rbac.Require(rbac.PermAttemptSave)).
			Post("/attempts/{attemptID}/answer", SaveAnswerHandler(d.Service))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).
			Post("/attempts/{attemptID}/submit", SubmitAttemptHandler(d.Service, d.Gate))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).
			Get("/attempts", ListAttemptsHandler(d.Service, d.Gate))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).
			Get("/attempts/{attemptID}", GetAttemptHandler(d.Service, d.Gate))
		pr.With(rbac.RequireAny(rbac.PermGradingViewOwn, rbac.PermGradingInternal)).
			Get("/attempts/{attemptID}/grading", GradingStatusHandler(d.Service, d.Jobs))

		// Grading and release (admin)
		pr.With(rbac.Require(rbac.PermResultsRelease)).
			Post("/attempts/{attemptID}/release-result", ReleaseAttemptHandler(d.Service, d.Gate))
		pr.With(rbac.Require(rbac.PermAttemptGrade)).
			Patch("/attempts/{attemptID}/answers/{questionID}", ManualGradeHandler(d.Service, d.Gate))
		pr.With(rbac.Require(rbac.PermGradingInternal)).
			Post("/attempts/{attemptID}/rescore", RescoreHandler(d.Service))
		pr.With(rbac.Require(rbac.PermAttemptViewAll)).
			Get("/admin/audit", AuditHandler(d.Events))

		// Analytics
		pr.With(rbac.Require(rbac.PermAnalyticsView)).
			Get("/analytics/dashboard", DashboardHandler(d.Service))
		pr.With(rbac.Require(rbac.PermAnalyticsView)).
			Get("/analytics/tests", TestStatsHandler(d.Service))
		pr.With(rbac.RequireAny(rbac.PermLeaderboardView, rbac.PermAnalyticsView)).
			Get("/analytics/leaderboard/{testID}", LeaderboardHandler(d.Service))
	})
	return r
}
