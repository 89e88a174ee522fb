// handlers.go contains the RunE handler functions for all CLI commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/config"
	"github.com/haasonsaas/augur/internal/forecast"
	"github.com/haasonsaas/augur/internal/metaculus"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/orchestrator"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/store"
)

// app bundles the shared pieces behind the forecasting commands.
type app struct {
	cfg      *config.Config
	log      *observability.Logger
	registry *prometheus.Registry
	orch     *orchestrator.Orchestrator
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	orch, err := orchestrator.New(cfg, log, metrics)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, registry: registry, orch: orch}, nil
}

// =============================================================================
// test
// =============================================================================

func runTest(ctx context.Context, configPath string, postID int64) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	out, err := a.orch.Run(ctx, postID, orchestrator.Options{AllowSpawn: true})
	if err != nil {
		return err
	}
	if _, err := a.orch.Store().Save(recordFromOutput(out)); err != nil {
		a.log.Warn(ctx, "saving forecast record failed", "error", err)
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// =============================================================================
// submit
// =============================================================================

func runSubmit(ctx context.Context, configPath string, postID int64, useCache, comment bool) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	var (
		out  *forecast.Output
		path string
	)
	if useCache {
		cachedPath, rec, err := a.orch.Store().LatestPath(postID)
		if err != nil {
			return err
		}
		if rec != nil {
			out = outputFromRecord(rec)
			path = cachedPath
			a.log.Info(ctx, "submitting stored forecast", "post_id", postID, "record", path)
		}
	}
	if out == nil {
		fresh, err := a.orch.Run(ctx, postID, orchestrator.Options{AllowSpawn: true})
		if err != nil {
			return err
		}
		out = fresh
		// The record is written before submission is attempted, so a
		// submission failure never loses the forecast.
		path, err = a.orch.Store().Save(recordFromOutput(out))
		if err != nil {
			return err
		}
	}

	return submitOutput(ctx, a, postID, out, path, comment)
}

func submitOutput(ctx context.Context, a *app, postID int64, out *forecast.Output, recordPath string, comment bool) error {
	if out.Defaulted {
		a.log.Warn(ctx, "skipping submission of defaulted forecast", "post_id", postID)
		fmt.Printf("skipped: question %d produced no valid forecast (neutral default stored)\n", postID)
		return nil
	}

	questions, err := a.orch.Client().GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("fetching post %d for submission: %w", postID, err)
	}
	q := matchQuestion(questions, out.QuestionID)
	if q == nil {
		return fmt.Errorf("post %d no longer carries question %d", postID, out.QuestionID)
	}

	payload, err := forecast.BuildPayload(out, q.CDFSize())
	if err != nil {
		return fmt.Errorf("building submission payload: %w", err)
	}
	if err := a.orch.Client().SubmitForecast(ctx, []metaculus.ForecastPayload{payload}); err != nil {
		return fmt.Errorf("submitting forecast for post %d: %w", postID, err)
	}
	if recordPath != "" {
		if err := a.orch.Store().MarkSubmitted(recordPath, time.Now().UTC()); err != nil {
			a.log.Warn(ctx, "marking record submitted failed", "error", err)
		}
	}
	fmt.Printf("submitted forecast for question %d (%s)\n", out.QuestionID, out.QuestionType)

	if comment {
		if err := a.orch.Client().CreateComment(ctx, postID, forecast.RenderComment(out), true); err != nil {
			return fmt.Errorf("posting comment on post %d: %w", postID, err)
		}
		if recordPath != "" {
			if err := a.orch.Store().MarkCommented(recordPath, time.Now().UTC()); err != nil {
				a.log.Warn(ctx, "marking record commented failed", "error", err)
			}
		}
	}
	return nil
}

func matchQuestion(questions []*metaculus.Question, questionID int64) *metaculus.Question {
	for _, q := range questions {
		if q.QuestionID == questionID {
			return q
		}
	}
	if len(questions) > 0 && questionID == 0 {
		return questions[0]
	}
	return nil
}

// =============================================================================
// retrodict
// =============================================================================

func runRetrodict(ctx context.Context, configPath string, postIDs []int64, forecastDate string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	var fixed *time.Time
	if forecastDate != "" {
		t, err := time.Parse("2006-01-02", forecastDate)
		if err != nil {
			return fmt.Errorf("invalid --forecast-date %q: %w", forecastDate, err)
		}
		fixed = &t
	}

	failures := 0
	for _, postID := range postIDs {
		questions, err := a.orch.Client().GetPost(ctx, postID)
		if err != nil || len(questions) == 0 {
			a.log.Error(ctx, "fetching retrodict question failed", "post_id", postID, "error", err)
			failures++
			continue
		}
		q := questions[0]

		cutoff := fixed
		if cutoff == nil {
			derived, err := deriveCutoff(q, time.Now().UTC())
			if err != nil {
				a.log.Error(ctx, "cannot derive forecast date", "post_id", postID, "error", err)
				failures++
				continue
			}
			cutoff = &derived
		}

		out, err := a.orch.Run(ctx, postID, orchestrator.Options{
			AllowSpawn:      true,
			Question:        q,
			RetrodictCutoff: cutoff,
		})
		if err != nil {
			a.log.Error(ctx, "retrodict run failed", "post_id", postID, "error", err)
			failures++
			continue
		}
		if _, err := a.orch.Store().Save(recordFromOutput(out)); err != nil {
			a.log.Warn(ctx, "saving retrodict record failed", "error", err)
		}
		fmt.Printf("retrodicted question %d as of %s: %s\n",
			out.QuestionID, out.RetrodictDate, out.Forecast.Summary())
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d retrodict runs failed", failures, len(postIDs))
	}
	return nil
}

// deriveCutoff picks the default retrodiction date for a question: the
// midpoint of its open window, clamped to the past.
func deriveCutoff(q *metaculus.Question, now time.Time) (time.Time, error) {
	if q.PublishedAt == nil {
		return time.Time{}, fmt.Errorf("question %d has no publication time; pass --forecast-date", q.QuestionID)
	}
	open := *q.PublishedAt
	closeAt := now
	if q.ScheduledCloseTime != nil && q.ScheduledCloseTime.Before(now) {
		closeAt = *q.ScheduledCloseTime
	}
	if closeAt.Before(open) {
		return time.Time{}, fmt.Errorf("question %d closes before it opens", q.QuestionID)
	}
	mid := open.Add(closeAt.Sub(open) / 2)
	if mid.After(now.Add(-24 * time.Hour)) {
		mid = now.Add(-24 * time.Hour)
	}
	return mid, nil
}

// =============================================================================
// tournament / loop
// =============================================================================

func runTournament(ctx context.Context, configPath string, tournament string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	return forecastTournament(ctx, a, tournament)
}

func forecastTournament(ctx context.Context, a *app, tournament string) error {
	questions, err := a.orch.Client().ListPosts(ctx, metaculus.ListFilter{
		Tournaments: []string{tournament},
		Status:      "open",
	})
	if err != nil {
		return fmt.Errorf("listing tournament %q: %w", tournament, err)
	}
	a.log.Info(ctx, "tournament pass starting", "tournament", tournament, "open_questions", len(questions))

	failures := 0
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return err
		}

		latest, err := a.orch.Store().Latest(q.PostID)
		if err == nil && latest != nil && latest.SubmittedAt != nil {
			a.log.Debug(ctx, "already forecast, skipping", "post_id", q.PostID)
			continue
		}

		out, err := a.orch.Run(ctx, q.PostID, orchestrator.Options{AllowSpawn: true, Question: q})
		if err != nil {
			var credit *agent.CreditExhaustedError
			if errors.As(err, &credit) {
				return err
			}
			a.log.Error(ctx, "forecast failed", "post_id", q.PostID, "error", err)
			failures++
			continue
		}
		path, err := a.orch.Store().Save(recordFromOutput(out))
		if err != nil {
			a.log.Warn(ctx, "saving forecast record failed", "error", err)
		}
		if err := submitOutput(ctx, a, q.PostID, out, path, true); err != nil {
			a.log.Error(ctx, "submission failed", "post_id", q.PostID, "error", err)
			failures++
		}
	}

	if failures > 0 {
		return fmt.Errorf("tournament %q: %d questions failed", tournament, failures)
	}
	return nil
}

func runLoop(ctx context.Context, configPath string, tournaments []string, intervalMinutes int) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Metrics.Enabled {
		srv := startMetricsServer(a)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	interval := time.Duration(intervalMinutes) * time.Minute
	for {
		for _, tournament := range tournaments {
			if ctx.Err() != nil {
				return nil
			}
			err := forecastTournament(ctx, a, tournament)
			var credit *agent.CreditExhaustedError
			if errors.As(err, &credit) && !credit.ResetAt.IsZero() {
				wait := time.Until(credit.ResetAt)
				a.log.Warn(ctx, "credits exhausted, pausing loop",
					"reset_at", credit.ResetAt, "wait", wait)
				if !sleepCtx(ctx, wait) {
					return nil
				}
				continue
			}
			if err != nil && ctx.Err() == nil {
				a.log.Error(ctx, "tournament pass failed", "tournament", tournament, "error", err)
			}
		}

		a.log.Info(ctx, "pass complete, sleeping", "interval", interval)
		if !sleepCtx(ctx, interval) {
			return nil
		}
	}
}

func startMetricsServer(a *app) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error(context.Background(), "metrics server failed", "error", err)
		}
	}()
	return srv
}

// sleepCtx sleeps for d or until ctx is done; it reports whether the full
// sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// =============================================================================
// backfill-comments
// =============================================================================

// runBackfillComments posts reasoning comments for submitted records that
// lack one. No model access is needed, so the app is built without the
// orchestrator.
func runBackfillComments(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	client := metaculus.NewClient(metaculus.DefaultBaseURL, cfg.Credentials.MetaculusToken,
		cfg.HTTP.Timeout, ratelimit.NewDefaultLimiter())
	st := store.New(filepath.Join(cfg.Notes.BaseDir, "notes"))

	paths, err := st.Uncommented()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println("no submitted forecasts are missing comments")
		return nil
	}

	failures := 0
	for _, path := range paths {
		rec, err := st.Read(path)
		if err != nil {
			log.Error(ctx, "reading record failed", "path", path, "error", err)
			failures++
			continue
		}
		comment := forecast.RenderComment(outputFromRecord(rec))
		if err := client.CreateComment(ctx, rec.PostID, comment, true); err != nil {
			log.Error(ctx, "posting comment failed", "post_id", rec.PostID, "error", err)
			failures++
			continue
		}
		if err := st.MarkCommented(path, time.Now().UTC()); err != nil {
			log.Warn(ctx, "marking record commented failed", "path", path, "error", err)
		}
		fmt.Printf("commented on post %d\n", rec.PostID)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d comments failed", failures, len(paths))
	}
	return nil
}

// =============================================================================
// record conversion
// =============================================================================

func recordFromOutput(out *forecast.Output) *store.Record {
	return &store.Record{
		SessionID:     out.SessionID,
		PostID:        out.PostID,
		QuestionID:    out.QuestionID,
		QuestionTitle: out.QuestionTitle,
		QuestionType:  string(out.QuestionType),
		RetrodictDate: out.RetrodictDate,
		Forecast:      out.Forecast,
		CDF:           out.CDF,
		Summary:       out.Forecast.Summary(),
		Reasoning:     out.Reasoning,
		Sources:       out.Sources,
		Duration:      out.Duration,
		CostUSD:       out.CostUSD,
		Tokens:        out.Tokens,
		Tools:         out.Tools,
		Defaulted:     out.Defaulted,
	}
}

func outputFromRecord(rec *store.Record) *forecast.Output {
	return &forecast.Output{
		SessionID:     rec.SessionID,
		PostID:        rec.PostID,
		QuestionID:    rec.QuestionID,
		QuestionTitle: rec.QuestionTitle,
		QuestionType:  metaculus.QuestionType(rec.QuestionType),
		Forecast:      rec.Forecast,
		Reasoning:     rec.Reasoning,
		Sources:       rec.Sources,
		Duration:      rec.Duration,
		CostUSD:       rec.CostUSD,
		Tokens:        rec.Tokens,
		Tools:         rec.Tools,
		CDF:           rec.CDF,
		Defaulted:     rec.Defaulted,
		RetrodictDate: rec.RetrodictDate,
	}
}
