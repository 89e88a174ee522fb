package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/augur/internal/agent"
	"github.com/haasonsaas/augur/internal/cache"
	"github.com/haasonsaas/augur/internal/config"
	"github.com/haasonsaas/augur/internal/metaculus"
	"github.com/haasonsaas/augur/internal/observability"
	"github.com/haasonsaas/augur/internal/ratelimit"
	"github.com/haasonsaas/augur/internal/retrodict"
	"github.com/haasonsaas/augur/internal/store"
	"github.com/haasonsaas/augur/internal/tools/subquestion"
)

// scriptedProvider replays a fixed completion sequence.
type scriptedProvider struct {
	script []*agent.Completion
	turn   int
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.Completion, error) {
	if s.turn >= len(s.script) {
		return &agent.Completion{Text: "out of script", StopReason: "end_turn"}, nil
	}
	c := s.script[s.turn]
	s.turn++
	return c, nil
}

func newTestOrchestrator(t *testing.T, provider agent.LLMProvider) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.Notes.BaseDir = t.TempDir()

	limiter := ratelimit.NewDefaultLimiter()
	c := cache.New(cache.Options{})
	log := observability.Nop()
	return &Orchestrator{
		cfg:      cfg,
		provider: provider,
		client:   metaculus.NewClient("", "", time.Second, limiter),
		cache:    c,
		limiter:  limiter,
		wayback:  retrodict.NewWayback(limiter, c, log, time.Second),
		store:    store.New(filepath.Join(cfg.Notes.BaseDir, "notes")),
		log:      log,
	}
}

func finalAnswer(jsonBody string) *agent.Completion {
	return &agent.Completion{
		Text:         "After weighing the evidence:\n```json\n" + jsonBody + "\n```",
		StopReason:   "end_turn",
		InputTokens:  1000,
		OutputTokens: 200,
	}
}

func binaryQuestion() *metaculus.Question {
	return &metaculus.Question{
		PostID:     101,
		QuestionID: 101,
		Type:       metaculus.TypeBinary,
		Title:      "Will the incumbent win?",
	}
}

func TestRunBinary(t *testing.T) {
	provider := &scriptedProvider{script: []*agent.Completion{
		finalAnswer(`{"summary":"favoured","factors":[],"logit":0.4,"probability":0.6}`),
	}}
	o := newTestOrchestrator(t, provider)

	out, err := o.Run(context.Background(), 101, Options{Question: binaryQuestion()})
	if err != nil {
		t.Fatal(err)
	}
	if out.Defaulted {
		t.Error("valid output should not be defaulted")
	}
	if out.Forecast == nil || out.Forecast.Binary == nil || out.Forecast.Binary.Probability != 0.6 {
		t.Errorf("forecast = %+v", out.Forecast)
	}
	if out.SessionID == "" {
		t.Error("session id missing")
	}
	if out.CDF != nil {
		t.Error("binary forecast must not carry a CDF")
	}
	if out.Tokens.Input != 1000 || out.Tokens.Output != 200 {
		t.Errorf("tokens = %+v", out.Tokens)
	}
	if out.CostUSD <= 0 {
		t.Errorf("cost = %v", out.CostUSD)
	}
}

func TestRunNumericBuildsCDF(t *testing.T) {
	provider := &scriptedProvider{script: []*agent.Completion{
		finalAnswer(`{"summary":"s","factors":[],
			"percentiles":{"p10":10,"p20":20,"p40":40,"p60":60,"p80":80,"p90":90}}`),
	}}
	o := newTestOrchestrator(t, provider)

	lo, hi := 0.0, 100.0
	q := &metaculus.Question{
		PostID: 102, QuestionID: 102,
		Type:     metaculus.TypeNumeric,
		Title:    "How many?",
		RangeMin: &lo, RangeMax: &hi,
	}
	out, err := o.Run(context.Background(), 102, Options{Question: q})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.CDF) != 201 {
		t.Fatalf("cdf length = %d, want 201", len(out.CDF))
	}
	for i := 1; i < len(out.CDF); i++ {
		if out.CDF[i] < out.CDF[i-1] {
			t.Fatalf("cdf not monotone at %d", i)
		}
	}
}

func TestRunInvalidOutputDefaults(t *testing.T) {
	provider := &scriptedProvider{script: []*agent.Completion{
		{Text: "I cannot decide.", StopReason: "end_turn"},
	}}
	o := newTestOrchestrator(t, provider)

	out, err := o.Run(context.Background(), 101, Options{Question: binaryQuestion()})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Defaulted {
		t.Fatal("missing structured output must default")
	}
	if out.Forecast.Binary == nil || out.Forecast.Binary.Probability != 0.5 {
		t.Errorf("neutral forecast = %+v", out.Forecast)
	}
}

func TestRunTaggedUnionOutputDefaults(t *testing.T) {
	// The schema asks for the bare per-type payload; an answer wrapped in
	// the tagged-union envelope must be rejected, not half-parsed.
	provider := &scriptedProvider{script: []*agent.Completion{
		finalAnswer(`{"question_type":"binary","binary":{"summary":"s","factors":[],"logit":0.4,"probability":0.6}}`),
	}}
	o := newTestOrchestrator(t, provider)

	out, err := o.Run(context.Background(), 101, Options{Question: binaryQuestion()})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Defaulted {
		t.Fatal("wrapped output must default")
	}
	if out.Forecast.Binary == nil || out.Forecast.Binary.Probability != 0.5 {
		t.Errorf("neutral forecast = %+v", out.Forecast)
	}
}

func TestRunRetrodictMetadata(t *testing.T) {
	provider := &scriptedProvider{script: []*agent.Completion{
		finalAnswer(`{"summary":"s","factors":[],"logit":0,"probability":0.5}`),
	}}
	o := newTestOrchestrator(t, provider)

	cutoff := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	out, err := o.Run(context.Background(), 101, Options{
		Question:        binaryQuestion(),
		RetrodictCutoff: &cutoff,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RetrodictDate != "2026-01-15" {
		t.Errorf("retrodict date = %q", out.RetrodictDate)
	}
}

func TestSubForecasterRequiresNumericBounds(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{})
	run := o.subForecaster(Options{})

	_, err := run(context.Background(), subquestion.Spec{
		Question: "how many units?",
		Type:     "numeric",
	})
	if err == nil || !strings.Contains(err.Error(), "numeric_bounds") {
		t.Errorf("err = %v", err)
	}
}

func TestEstimateCost(t *testing.T) {
	got := estimateCost("claude-sonnet-4-20250514", 1_000_000, 100_000)
	if got != 3+1.5 {
		t.Errorf("sonnet cost = %v", got)
	}
	if estimateCost("unknown-model", 1000, 1000) != 0 {
		t.Error("unknown model should cost 0")
	}
}
