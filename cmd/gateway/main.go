package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	api "github.com/mind-engage/mindengage-quiz/internal/api/http"
	"github.com/mind-engage/mindengage-quiz/internal/app"
	auth "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/cache"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/eventlog"
	"github.com/mind-engage/mindengage-quiz/internal/logging"
	"github.com/mind-engage/mindengage-quiz/internal/queue"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

func main() {
	_ = godotenv.Load()

	fxApp := fx.New(
		app.Core,
		fx.Provide(newRouter),
		fx.Invoke(initLogging),
		fx.Invoke(embedWorker),
		fx.Invoke(serve),
	)

	if err := fxApp.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("gateway failed to start")
	}
	<-fxApp.Done()
	log.Info().Msg("gateway shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
	}
}

func initLogging(cfg config.Config) {
	logging.Init(string(cfg.Mode))
}

func newRouter(cfg config.Config, svc *quiz.Service, gate *release.Gate, q *queue.Queue, ev *eventlog.Repo, c *cache.Cache) http.Handler {
	d := api.Deps{
		Service:     svc,
		Gate:        gate,
		Events:      ev,
		Cache:       c,
		Auth:        auth.NewAuthService(cfg.AuthHMACSecret),
		Guests:      cfg.EnableGuestAuth,
		CORSOrigins: cfg.CORSOrigins(),
	}
	if cfg.GradingMode == config.GradingAsync {
		d.Jobs = q
	}
	if cfg.EnableLocalAuth {
		d.Login = &auth.LocalLogin{
			AdminUser:     cfg.AdminUser,
			AdminPassHash: cfg.AdminPassHash,
			AllowUsers:    cfg.Mode == config.ModeOffline,
		}
	}
	return api.NewRouter(d)
}

// embedWorker runs the grading worker in-process, the default for a single
// offline box. Online deployments run gradingd instead.
func embedWorker(lc fx.Lifecycle, cfg config.Config, w *queue.Worker) {
	if cfg.GradingMode != config.GradingAsync || !cfg.EmbedWorker {
		return
	}
	app.RunWorker(lc, w)
}

func serve(lc fx.Lifecycle, cfg config.Config, h http.Handler) {
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Str("addr", cfg.HTTPAddr).Str("mode", string(cfg.Mode)).
				Str("db", cfg.DBDriver).Str("grading", string(cfg.GradingMode)).Msg("listening")
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("http server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	})
}
