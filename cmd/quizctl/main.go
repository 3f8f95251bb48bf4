// Command quizctl is the operator CLI: importing tests, inspecting grading
// jobs and releasing results without going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"github.com/mind-engage/mindengage-quiz/internal/app"
	"github.com/mind-engage/mindengage-quiz/internal/queue"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/release"
)

const usage = `usage: quizctl <command> [args]

commands:
  import <file.yaml>   create or replace the tests in a YAML file
  job <attemptId>      print the grading job for an attempt
  release <testId>     release results and move every submitted attempt to graded
  drain                run due grading jobs until none are left
`

type deps struct {
	svc    *quiz.Service
	gate   *release.Gate
	q      *queue.Queue
	worker *queue.Worker
}

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	actor := flag.String("actor", "quizctl", "actor recorded in the audit log")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var d deps
	fxApp := fx.New(
		app.Core,
		fx.NopLogger,
		fx.Populate(&d.svc, &d.gate, &d.q, &d.worker),
	)
	ctx := context.Background()
	if err := fxApp.Err(); err != nil {
		log.Fatal().Err(err).Msg("init failed")
	}
	if err := fxApp.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start failed")
	}
	defer func() { _ = fxApp.Stop(context.Background()) }()

	if err := run(ctx, d, *actor, flag.Args(), os.Stdout); err != nil {
		log.Error().Err(err).Msg(flag.Arg(0) + " failed")
		_ = fxApp.Stop(context.Background())
		os.Exit(1)
	}
}

func run(ctx context.Context, d deps, actor string, args []string, out io.Writer) error {
	need := func(n int) error {
		if len(args) != n+1 {
			return fmt.Errorf("%s: expected %d argument(s)\n\n%s", args[0], n, usage)
		}
		return nil
	}
	switch args[0] {
	case "import":
		if err := need(1); err != nil {
			return err
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		tests, err := importTests(ctx, d.svc, d.gate, f)
		for _, t := range tests {
			fmt.Fprintf(out, "%s\t%s\t%d questions\n", t.ID, t.Status, len(t.Questions))
		}
		return err
	case "job":
		if err := need(1); err != nil {
			return err
		}
		st, err := d.q.GetStatus(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, st)
	case "release":
		if err := need(1); err != nil {
			return err
		}
		n, err := d.gate.ReleaseTest(ctx, args[1], actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "released %d attempt(s)\n", n)
		return nil
	case "drain":
		n := 0
		for {
			ok, err := d.worker.ProcessNext(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			n++
		}
		fmt.Fprintf(out, "processed %d job(s)\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

// importTests reads one test per YAML document. Keys follow the JSON API
// field names, so each document is routed through encoding/json. Each saved
// test is dropped from the gate's cache so masking sees the new settings.
func importTests(ctx context.Context, svc *quiz.Service, gate *release.Gate, r io.Reader) ([]quiz.Test, error) {
	dec := yaml.NewDecoder(r)
	var out []quiz.Test
	for i := 1; ; i++ {
		var doc map[string]any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("document %d: %w", i, err)
		}
		if doc == nil {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return out, fmt.Errorf("document %d: %w", i, err)
		}
		var t quiz.Test
		if err := json.Unmarshal(raw, &t); err != nil {
			return out, fmt.Errorf("document %d: %w", i, err)
		}
		saved, err := svc.PutTest(ctx, t)
		if err != nil {
			return out, fmt.Errorf("document %d (%s): %w", i, t.ID, err)
		}
		gate.Forget(ctx, saved.ID)
		out = append(out, saved)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
