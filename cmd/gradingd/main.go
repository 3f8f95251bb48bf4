// Command gradingd runs grading workers against the shared job table
// without serving HTTP.
package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"github.com/mind-engage/mindengage-quiz/internal/app"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/logging"
)

func main() {
	_ = godotenv.Load()

	fxApp := fx.New(
		app.Core,
		fx.Invoke(func(cfg config.Config) { logging.Init(string(cfg.Mode)) }),
		fx.Invoke(app.RunWorker),
	)
	if err := fxApp.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("gradingd failed to start")
	}
	<-fxApp.Done()

	// long enough for a job at the default timeout to finish
	stopCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
	}
}
