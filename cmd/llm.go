package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/joescharf/qagate/internal/batch"
	"github.com/joescharf/qagate/internal/fixloop"
	"github.com/joescharf/qagate/internal/issues"
	"github.com/joescharf/qagate/internal/judge"
	"github.com/joescharf/qagate/internal/llm"
	"github.com/joescharf/qagate/internal/override"
	"github.com/joescharf/qagate/internal/pipeline"
	"github.com/joescharf/qagate/internal/store"
	"github.com/joescharf/qagate/internal/validators"
	"github.com/joescharf/qagate/internal/verdict"
	"github.com/joescharf/qagate/internal/worker"
)

// newLogger builds the process logger from log.format and log.level.
// --verbose forces debug.
func newLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log.format"), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newLLMProvider creates the configured provider, or returns nil if no API
// key is configured.
func newLLMProvider() (llm.Provider, error) {
	switch kind := viper.GetString("llm.provider"); kind {
	case "", "anthropic":
		apiKey := viper.GetString("anthropic.api_key")
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, nil
		}
		return llm.NewAnthropicClient(apiKey, viper.GetString("anthropic.model")), nil
	case "openai":
		apiKey := viper.GetString("openai.api_key")
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, nil
		}
		return llm.NewOpenAIClient(apiKey, viper.GetString("openai.model"), viper.GetString("openai.base_url")), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want anthropic or openai)", kind)
	}
}

func judgeConfig() judge.Config {
	cfg := judge.DefaultConfig()
	cfg.MaxIssues = viper.GetInt("judge.max_issues")
	cfg.MaxAttempts = viper.GetInt("judge.max_attempts")
	cfg.RatePerSecond = viper.GetFloat64("judge.rate_per_second")
	cfg.Burst = viper.GetInt("judge.burst")
	if d := viper.GetDuration("judge.call_timeout"); d > 0 {
		cfg.CallTimeout = d
	}
	cfg.EnabledTypes = viper.GetStringSlice("judge.enabled_types")
	return cfg
}

// newPipeline wires validators, the judge and the fix loop from config.
// withJudge=false, or a missing API key, yields a Layer-A-only gate.
func newPipeline(withJudge bool) (*pipeline.Pipeline, error) {
	reg := issues.Default()
	v, err := validators.New(reg, validators.DefaultRules())
	if err != nil {
		return nil, fmt.Errorf("build validators: %w", err)
	}

	var (
		j    pipeline.Judge
		loop *fixloop.Loop
	)
	if withJudge && viper.GetBool("judge.enabled") {
		provider, err := newLLMProvider()
		if err != nil {
			return nil, err
		}
		if provider == nil {
			ui.Warning("No LLM API key configured; running deterministic checks only")
		} else {
			agent, err := judge.New(provider, reg, judgeConfig(), logger)
			if err != nil {
				return nil, fmt.Errorf("build judge: %w", err)
			}
			j = agent
			loop = fixloop.New(reg, llm.NewRewriter(provider), viper.GetInt("fixloop.max_attempts"), logger)
			ui.VerboseLog("Judge: %s/%s", provider.Name(), provider.Model())
		}
	}

	policy := verdict.Policy{ReviewEnabled: viper.GetBool("policy.review_enabled")}
	return pipeline.New(reg, v, j, policy, loop, logger)
}

func pricing() llm.Pricing {
	return llm.Pricing{
		InputPerMTok:  viper.GetFloat64("pricing.input_per_mtok"),
		OutputPerMTok: viper.GetFloat64("pricing.output_per_mtok"),
		FlatPerCall:   viper.GetFloat64("pricing.flat_per_call"),
	}
}

func workerConfig() worker.Config {
	return worker.Config{
		ID:             viper.GetString("worker.id"),
		Concurrency:    viper.GetInt("worker.concurrency"),
		ClaimLimit:     viper.GetInt("worker.claim_limit"),
		PollInterval:   viper.GetDuration("worker.poll_interval"),
		ItemTimeout:    viper.GetDuration("worker.item_timeout"),
		ReclaimAfter:   viper.GetDuration("worker.reclaim_after"),
		MaxItemCostUSD: viper.GetFloat64("worker.max_item_cost_usd"),
		Pricing:        pricing(),
		PromptVersion:  judge.PromptVersion,
	}
}

func batchConfig() batch.Config {
	return batch.Config{
		DefaultLimit:         viper.GetInt("batch.default_limit"),
		MaxLimit:             viper.GetInt("batch.max_limit"),
		EstimatedItemCostUSD: viper.GetFloat64("batch.estimated_item_cost_usd"),
		MaxCostUSD:           viper.GetFloat64("batch.max_cost_usd"),
		DailyBudgetUSD:       viper.GetFloat64("batch.daily_budget_usd"),
	}
}

// newWorker opens the store and builds a claim-worker over the full gate.
func newWorker() (*worker.Worker, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	p, err := newPipeline(true)
	if err != nil {
		return nil, err
	}
	return worker.New(s, p, workerConfig(), logger)
}

func batchService() (*batch.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return batch.New(s, batchConfig(), logger), nil
}

func overrideService() (*override.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	return override.New(s, issues.Default(), logger), nil
}

// services opens the store once and returns both domain services.
func services() (store.Store, *batch.Service, *override.Service, error) {
	s, err := getStore()
	if err != nil {
		return nil, nil, nil, err
	}
	return s, batch.New(s, batchConfig(), logger), override.New(s, issues.Default(), logger), nil
}
