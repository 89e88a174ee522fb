// Package orchestrator drives a question through the full forecast
// pipeline: fetch, tool assembly, model loop, structured output parsing,
// and CDF synthesis.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/config"
	"github.com/haasonsaas/augur/internal/distribution"
	"github.com/haasonsaas/augur/internal/forecast"
	"github.com/haasonsaas/augur/internal/metaculus"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
	"github.com/haasonsaas/augur/internal/store"
	"github.com/haasonsaas/augur/internal/tools/econ"
	"github.com/haasonsaas/augur/internal/tools/markets"
	"github.com/haasonsaas/augur/internal/tools/metaculustools"
	"github.com/haasonsaas/augur/internal/tools/notes"
	"github.com/haasonsaas/augur/internal/tools/policy"
	"github.com/haasonsaas/augur/internal/tools/sandbox"
	"github.com/haasonsaas/augur/internal/tools/subquestion"
	"github.com/haasonsaas/augur/internal/tools/trends"
	"github.com/haasonsaas/augur/internal/tools/websearch"
	"github.com/haasonsaas/augur/internal/tools/wiki"
)

// Options steers a single forecast run.
type Options struct {
	// AllowSpawn permits sub-question decomposition. Always false for
	// recursive calls, bounding depth at two.
	AllowSpawn bool

	// RetrodictCutoff, when set, runs the session time-restricted as of
	// this date.
	RetrodictCutoff *time.Time

	// Question supplies a pre-built context instead of fetching by id;
	// used by sub-forecasts.
	Question *metaculus.Question

	// MaxTurns overrides the configured turn budget (0 = configured).
	MaxTurns int
}

// Orchestrator owns the shared infrastructure for forecast runs.
type Orchestrator struct {
	cfg      *config.Config
	provider agent.LLMProvider
	client   *metaculus.Client
	cache    *cache.TTLCache
	limiter  *ratelimit.Limiter
	wayback  *retrodict.Wayback
	store    *store.Store
	log      *observability.Logger
	metrics  *observability.Metrics
}

// New wires an orchestrator from configuration. The provider requires an
// Anthropic key; everything else degrades by policy.
func New(cfg *config.Config, log *observability.Logger, metrics *observability.Metrics) (*Orchestrator, error) {
	provider, err := agent.NewAnthropicProvider(agent.AnthropicConfig{
		APIKey:       cfg.Credentials.AnthropicKey,
		DefaultModel: cfg.Model.ID,
	})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.NewLimiter(map[string]int64{
		ratelimit.ResourceMetaculus: cfg.RateLimits.Metaculus,
		ratelimit.ResourceSearch:    cfg.RateLimits.Search,
		ratelimit.ResourceWayback:   cfg.RateLimits.Wayback,
	}, 3)
	researchCache := cache.New(cache.Options{})

	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		client:   metaculus.NewClient(metaculus.DefaultBaseURL, cfg.Credentials.MetaculusToken, cfg.HTTP.Timeout, limiter),
		cache:    researchCache,
		limiter:  limiter,
		wayback:  retrodict.NewWayback(limiter, researchCache, log, cfg.HTTP.WaybackTimeout),
		store:    store.New(filepath.Join(cfg.Notes.BaseDir, "notes")),
		log:      log,
		metrics:  metrics,
	}, nil
}

// Client exposes the platform client for command handlers.
func (o *Orchestrator) Client() *metaculus.Client { return o.client }

// Store exposes the forecast store for command handlers.
func (o *Orchestrator) Store() *store.Store { return o.store }

// Run forecasts the question behind postID.
func (o *Orchestrator) Run(ctx context.Context, postID int64, opts Options) (*forecast.Output, error) {
	q := opts.Question
	if q == nil {
		questions, err := o.client.GetPost(ctx, postID)
		if err != nil {
			return nil, fmt.Errorf("fetching post %d: %w", postID, err)
		}
		if len(questions) == 0 {
			return nil, fmt.Errorf("post %d carries no open question", postID)
		}
		if len(questions) > 1 {
			o.log.Info(ctx, "group post: forecasting first sub-question",
				"post_id", postID, "questions", len(questions))
		}
		q = questions[0]
	}
	return o.runQuestion(ctx, q, opts)
}

func (o *Orchestrator) runQuestion(ctx context.Context, q *metaculus.Question, opts Options) (out *forecast.Output, err error) {
	started := time.Now()
	sessionID := uuid.NewString()[:8]
	sessionStamp := started.UTC().Format("20060102T150405")

	if opts.RetrodictCutoff != nil {
		ctx = retrodict.WithCutoff(ctx, *opts.RetrodictCutoff)
	}
	restricted := opts.RetrodictCutoff != nil

	log := o.log.With("session_id", sessionID, "post_id", q.PostID)
	if f, err := o.openSessionLog(q.PostID, sessionStamp); err == nil {
		defer f.Close()
		log = log.WithWriter(f)
	} else {
		log.Warn(ctx, "session log file unavailable", "error", err)
	}
	log.Info(ctx, "forecast run starting",
		"question_id", q.QuestionID, "type", q.Type, "retrodict", restricted)

	defer func() {
		if o.metrics == nil {
			return
		}
		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case out != nil && out.Defaulted:
			status = "defaulted"
		}
		o.metrics.ForecastCounter.With(prometheus.Labels{
			"question_type": string(q.Type), "status": status,
		}).Inc()
		o.metrics.ForecastDuration.With(prometheus.Labels{
			"question_type": string(q.Type),
		}).Observe(time.Since(started).Seconds())
		if out != nil {
			o.metrics.ForecastCost.Add(out.CostUSD)
		}
	}()

	registry, cleanup, err := o.buildRegistry(ctx, q, sessionID, sessionStamp, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	schema, err := forecast.SchemaFor(q.Type)
	if err != nil {
		return nil, err
	}

	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = o.cfg.Budget.MaxTurns
	}
	loop := &agent.Loop{
		Provider:   o.provider,
		Hook:       retrodict.NewHook(),
		Log:        log,
		Metrics:    o.metrics,
		Model:      o.cfg.Model.ID,
		MaxTurns:   maxTurns,
		MaxTokens:  o.cfg.Model.MaxTokens,
		MaxCostUSD: o.cfg.Budget.MaxCostUSD,
		Cost: func(in, out int) float64 {
			return estimateCost(o.cfg.Model.ID, in, out)
		},
	}

	res, err := loop.Run(ctx, &agent.LoopRequest{
		System:   systemPrompt(q, opts.RetrodictCutoff, schema, registry),
		Prompt:   questionPrompt(q),
		Registry: registry,
	})
	if err != nil {
		var credit *agent.CreditExhaustedError
		if errors.As(err, &credit) {
			log.Warn(ctx, "model credit exhausted", "reset_at", credit.ResetAt)
		}
		return nil, fmt.Errorf("model loop: %w", err)
	}

	out = &forecast.Output{
		QuestionID:    q.QuestionID,
		PostID:        q.PostID,
		QuestionTitle: q.Title,
		QuestionType:  q.Type,
		Reasoning:     res.FinalText,
		Duration:      time.Since(started),
		CostUSD:       estimateCost(o.cfg.Model.ID, res.InputTokens, res.OutputTokens),
		Tokens: forecast.TokenUsage{
			Input:  int64(res.InputTokens),
			Output: int64(res.OutputTokens),
		},
		Tools: forecast.ToolMetrics{
			Calls:  totalCalls(res.ToolCalls),
			Errors: res.ToolErrors,
			ByName: res.ToolCalls,
		},
		Sources:   sourcesFrom(res.ToolCalls),
		SessionID: sessionID,
	}
	if restricted {
		out.RetrodictDate = opts.RetrodictCutoff.Format("2006-01-02")
	}

	f, parseErr := parseFinal(q, res.FinalJSON)
	if parseErr != nil {
		log.Warn(ctx, "structured output invalid, substituting neutral forecast",
			"error", parseErr)
		out.Forecast = forecast.Neutral(q.Type, q.Options)
		out.Defaulted = true
		return out, nil
	}
	out.Forecast = f

	if needsCDF(q.Type) {
		cdf, err := o.synthesizeCDF(q, f)
		if err != nil {
			return nil, fmt.Errorf("building CDF: %w", err)
		}
		out.CDF = cdf
	}

	log.Info(ctx, "forecast run finished",
		"turns", res.Turns, "tool_calls", out.Tools.Calls,
		"defaulted", out.Defaulted, "cost_usd", out.CostUSD)
	return out, nil
}

// openSessionLog creates the per-run log file under logs/<post_id>/.
func (o *Orchestrator) openSessionLog(postID int64, stamp string) (*os.File, error) {
	dir := filepath.Join(o.cfg.Notes.BaseDir, "logs", strconv.FormatInt(postID, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, stamp+".log"))
}

func parseFinal(q *metaculus.Question, raw []byte) (*forecast.Forecast, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("model emitted no structured output")
	}
	return forecast.Parse(q.Type, raw)
}

func needsCDF(t metaculus.QuestionType) bool {
	return t == metaculus.TypeNumeric || t == metaculus.TypeDiscrete || t == metaculus.TypeDate
}

// synthesizeCDF converts the model's sparse numeric forecast into the
// platform's dense CDF using the question's range metadata.
func (o *Orchestrator) synthesizeCDF(q *metaculus.Question, f *forecast.Forecast) ([]float64, error) {
	if q.RangeMin == nil || q.RangeMax == nil {
		return nil, fmt.Errorf("question %d has no numeric range", q.QuestionID)
	}
	bounds := distribution.Bounds{
		RangeMin:  *q.RangeMin,
		RangeMax:  *q.RangeMax,
		OpenLower: q.OpenLowerBound,
		OpenUpper: q.OpenUpperBound,
		ZeroPoint: q.ZeroPoint,
		CDFSize:   q.CDFSize(),
	}

	if p := f.Numeric.Percentiles; p != nil {
		values := p.Values()
		points := make([]distribution.Point, len(values))
		for i, mark := range forecast.PercentileMarks {
			points[i] = distribution.Point{Pct: float64(mark) / 100, Value: values[i]}
		}
		spec, err := distribution.NewSpec(points, bounds)
		if err != nil {
			return nil, err
		}
		return distribution.BuildCDF(spec)
	}

	components := make([]distribution.Component, len(f.Numeric.Scenarios))
	for i, s := range f.Numeric.Scenarios {
		components[i] = distribution.Component{
			Mode:       s.Mode,
			LowerBound: s.LowerBound,
			UpperBound: s.UpperBound,
			Weight:     s.Weight,
		}
	}
	return distribution.BuildMixtureCDF(components, bounds)
}

// buildRegistry assembles and policy-filters the session's tool set. The
// returned cleanup releases session resources (sandbox container,
// retrodict notes directory).
func (o *Orchestrator) buildRegistry(ctx context.Context, q *metaculus.Question, sessionID, sessionStamp string, opts Options) (*agent.Registry, func(), error) {
	restricted := opts.RetrodictCutoff != nil
	r := agent.NewRegistry()
	var cleanups []func()
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	if err := metaculustools.Register(r, metaculustools.Deps{
		Client: o.client,
		Cache:  o.cache,
		Store:  o.store,
		Log:    o.log,
	}); err != nil {
		return nil, cleanup, err
	}

	if err := websearch.Register(r, websearch.Deps{
		Config: websearch.Config{
			ExaKey:          o.cfg.Credentials.ExaKey,
			AskNewsClientID: o.cfg.Credentials.AskNewsID,
			AskNewsSecret:   o.cfg.Credentials.AskNewsSecret,
			Timeout:         o.cfg.HTTP.Timeout,
		},
		Cache:   o.cache,
		Limiter: o.limiter,
		Wayback: o.wayback,
		Log:     o.log,
	}); err != nil {
		return nil, cleanup, err
	}

	if err := wiki.Register(r, wiki.Deps{
		Cache: o.cache, Limiter: o.limiter, Log: o.log, Timeout: o.cfg.HTTP.Timeout,
	}); err != nil {
		return nil, cleanup, err
	}
	if err := markets.Register(r, markets.Deps{
		Cache: o.cache, Limiter: o.limiter, Log: o.log, Timeout: o.cfg.HTTP.Timeout,
	}); err != nil {
		return nil, cleanup, err
	}
	if err := econ.Register(r, econ.Deps{
		Config:  econ.Config{FredAPIKey: o.cfg.Credentials.FredKey, Timeout: o.cfg.HTTP.Timeout},
		Cache:   o.cache,
		Limiter: o.limiter,
		Log:     o.log,
	}); err != nil {
		return nil, cleanup, err
	}
	if err := trends.Register(r, trends.Deps{
		Cache: o.cache, Limiter: o.limiter, Log: o.log, Timeout: o.cfg.HTTP.Timeout,
	}); err != nil {
		return nil, cleanup, err
	}

	if o.cfg.Sandbox.Enabled {
		runner := sandbox.NewRunner(sandbox.Options{
			SessionID: sessionID,
			Image:     o.cfg.Sandbox.Image,
			Memory:    o.cfg.Sandbox.MemoryLimit,
			Retrodict: restricted,
			Log:       o.log,
		})
		if err := sandbox.Register(r, runner); err != nil {
			return nil, cleanup, err
		}
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := runner.Close(shutdownCtx); err != nil {
				o.log.Warn(shutdownCtx, "sandbox cleanup failed", "error", err)
			}
		})
	}

	notesBase := filepath.Join(o.cfg.Notes.BaseDir, "notes")
	if restricted {
		// Retrodict notes live in a throwaway directory so nothing
		// written by live sessions can leak into past-date reasoning.
		tmp, err := os.MkdirTemp("", "augur-retrodict-notes-")
		if err != nil {
			return nil, cleanup, fmt.Errorf("creating retrodict notes dir: %w", err)
		}
		notesBase = tmp
		cleanups = append(cleanups, func() { os.RemoveAll(tmp) })
	}
	if err := notes.Register(r, notes.Deps{
		Config: notes.Config{BaseDir: notesBase, PostID: q.PostID, SessionStamp: sessionStamp},
		Cache:  o.cache,
		Log:    o.log,
	}); err != nil {
		return nil, cleanup, err
	}

	if opts.AllowSpawn {
		if err := subquestion.Register(r, o.subForecaster(opts), o.log); err != nil {
			return nil, cleanup, err
		}
	}

	p := policy.Policy{
		HasMetaculusToken: o.client.Authenticated(),
		HasSearchKey:      o.cfg.Credentials.ExaKey != "",
		HasNewsKey:        o.cfg.Credentials.AskNewsID != "" && o.cfg.Credentials.AskNewsSecret != "",
		HasEconKey:        o.cfg.Credentials.FredKey != "",
		Retrodict:         restricted,
		SandboxEnabled:    o.cfg.Sandbox.Enabled,
	}
	return r.Filter(p.AllowedTools(opts.AllowSpawn)), cleanup, nil
}

// subForecaster runs one sub-question through a recursive, spawn-disabled
// session with the smaller turn budget.
func (o *Orchestrator) subForecaster(parent Options) subquestion.Forecaster {
	return func(ctx context.Context, spec subquestion.Spec) (*forecast.Output, error) {
		q := &metaculus.Question{
			Title:       spec.Question,
			Description: spec.Context,
			Type:        metaculus.QuestionType(spec.Type),
			Options:     spec.Options,
		}
		if b := spec.NumericBounds; b != nil {
			q.RangeMin = &b.RangeMin
			q.RangeMax = &b.RangeMax
			q.OpenLowerBound = b.OpenLowerBound
			q.OpenUpperBound = b.OpenUpperBound
		}
		if q.Type == metaculus.TypeNumeric && q.RangeMin == nil {
			return nil, fmt.Errorf("numeric sub-question %q needs numeric_bounds", spec.Question)
		}
		return o.runQuestion(ctx, q, Options{
			AllowSpawn:      false,
			RetrodictCutoff: parent.RetrodictCutoff,
			MaxTurns:        o.cfg.Budget.SubforecastMaxTurns,
		})
	}
}

func totalCalls(byName map[string]int) int {
	total := 0
	for _, n := range byName {
		total += n
	}
	return total
}

// sourcesFrom lists the distinct research tools consulted, in stable
// order; this feeds the comment's source count.
func sourcesFrom(byName map[string]int) []string {
	var sources []string
	for name := range byName {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	return sources
}

// model pricing per million tokens, input/output.
var modelPricing = []struct {
	prefix string
	in, out float64
}{
	{"claude-opus", 15, 75},
	{"claude-sonnet", 3, 15},
	{"claude-haiku", 0.80, 4},
}

func estimateCost(model string, inputTokens, outputTokens int) float64 {
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			return float64(inputTokens)/1e6*p.in + float64(outputTokens)/1e6*p.out
		}
	}
	return 0
}
