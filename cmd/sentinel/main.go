// Command sentinel is the process entrypoint: it wires the Persistent
// Store, Spend Tracker, Policy Engine, Durable Scheduler, Inbox, Approval
// Broker, and Agent Loop Controller into one running process and drives the
// tick/step loop until the context is cancelled.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sentrycore/sentinel/internal/agentloop"
	"github.com/sentrycore/sentinel/internal/agentloop/sanitizer"
	"github.com/sentrycore/sentinel/internal/approval"
	"github.com/sentrycore/sentinel/internal/config"
	"github.com/sentrycore/sentinel/internal/external/identity"
	inference "github.com/sentrycore/sentinel/internal/external/inference"
	"github.com/sentrycore/sentinel/internal/external/inference/anthropic"
	"github.com/sentrycore/sentinel/internal/external/inference/middleware"
	"github.com/sentrycore/sentinel/internal/external/messaging"
	"github.com/sentrycore/sentinel/internal/external/sandbox"
	"github.com/sentrycore/sentinel/internal/inbox"
	"github.com/sentrycore/sentinel/internal/policy"
	"github.com/sentrycore/sentinel/internal/policy/rules"
	"github.com/sentrycore/sentinel/internal/scheduler"
	"github.com/sentrycore/sentinel/internal/spend"
	"github.com/sentrycore/sentinel/internal/store"
	"github.com/sentrycore/sentinel/internal/telemetry"
	"github.com/sentrycore/sentinel/internal/tools"
)

func main() {
	configPath := flag.String("config", "sentinel.yaml", "path to the YAML configuration file")
	sandboxURL := flag.String("sandbox-url", "http://localhost:8787", "base URL of the sandbox collaborator")
	identityURL := flag.String("identity-url", "http://localhost:8788", "base URL of the identity/wallet collaborator")
	webhookURL := flag.String("webhook-url", "", "outbound webhook URL for send_message; disabled if empty")
	debug := flag.Bool("debug", false, "enable verbose structured logging")
	flag.Parse()

	if err := run(*configPath, *sandboxURL, *identityURL, *webhookURL, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "sentinel:", err)
		os.Exit(1)
	}
}

func run(configPath, sandboxURL, identityURL, webhookURL string, debug bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := telemetry.Logger(telemetry.NoopLogger{})
	if debug {
		log = telemetry.NewClueLogger()
	}

	s, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	tracker := spend.New(s)

	httpClient := http.DefaultClient
	sandboxClient := sandbox.New(httpClient, sandboxURL)
	identityClient := identity.New(httpClient, identityURL)

	var sender messaging.Sender
	if webhookURL != "" {
		sender = messaging.NewWebhookSender(httpClient, webhookURL)
	}

	registry := tools.NewRegistry(buildToolHandlers(sandboxClient, identityClient, sender)...)

	rulesCatalogue := rules.Catalogue(cfg.Treasury.ToRules(), tracker, s, nil)
	engine := policy.NewEngine(
		policy.NewToolRegistryAdapter(registry),
		policy.NewStoreLogger(s),
		rulesCatalogue,
		policy.WithLogger(log),
	)

	inboxBox := inbox.New(s)
	approvals := approval.New(s, approval.WithLogger(log))
	sz := sanitizer.New()

	inferenceClient, err := buildInferenceClient(cfg)
	if err != nil {
		return fmt.Errorf("build inference client: %w", err)
	}

	controller := agentloop.New(ctx, s, engine, registry, inboxBox, sandboxClient, inferenceClient, sz, cfg.RunID,
		agentloop.WithModel(cfg.Model.ID, cfg.Model.MaxTokens),
		agentloop.WithSpendTracker(tracker),
		agentloop.WithApprovalBroker(approvals),
		agentloop.WithLogger(log),
	)

	sched := buildScheduler(s, sandboxClient, tracker, approvals, inboxBox, cfg, log)

	return mainLoop(ctx, sched, controller, cfg, log)
}

// buildInferenceClient wires the Anthropic-backed inference adapter from the
// API key named in config, never embedding the key in the config document
// itself.
// buildInferenceClient wires the Anthropic-backed inference adapter behind
// an adaptive tokens-per-minute limiter, so a provider rate-limit response
// throttles every subsequent call rather than being retried blind.
func buildInferenceClient(cfg config.Config) (inference.Client, error) {
	apiKey := ""
	if cfg.Secrets.AnthropicAPIKeyFile != "" {
		key, err := config.ReadSecret(cfg.Secrets.AnthropicAPIKeyFile)
		if err != nil {
			return nil, err
		}
		apiKey = key
	}
	sdkClient := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	client, err := anthropic.New(&sdkClient.Messages, anthropic.Options{
		DefaultModel: cfg.Model.ID,
		MaxTokens:    cfg.Model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	limiter := middleware.NewAdaptiveRateLimiter(60000, 240000)
	return limiter.Middleware()(client), nil
}

// buildToolHandlers binds CoreCatalogue's metadata-only entries to concrete
// Execute handlers backed by the external collaborator adapters. Tools with
// no external collaborator wired (e.g. webhookURL left empty) keep a nil
// Execute, which runToolCall records as a missing-handler tool-call error
// rather than panicking.
func buildToolHandlers(sb *sandbox.Client, id *identity.Client, sender messaging.Sender) []tools.ToolSpec {
	catalogue := tools.CoreCatalogue()
	for i, spec := range catalogue {
		switch spec.Name {
		case "read_file":
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var args struct {
					Path string `json:"path"`
				}
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, err
				}
				content, err := sb.ReadFile(ctx.(context.Context), args.Path)
				if err != nil {
					return nil, err
				}
				return json.Marshal(map[string]string{"content": content})
			})
		case "write_file", "edit_own_file":
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var args struct {
					Path    string `json:"path"`
					Content string `json:"content"`
				}
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, err
				}
				if err := sb.WriteFile(ctx.(context.Context), args.Path, args.Content); err != nil {
					return nil, err
				}
				return json.Marshal(map[string]bool{"ok": true})
			})
		case "exec":
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var args struct {
					Command string   `json:"command"`
					Args    []string `json:"args"`
				}
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, err
				}
				result, err := sb.Exec(ctx.(context.Context), args.Command, args.Args, 30*time.Second)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			})
		case "transfer_credits":
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var args struct {
					Recipient   string `json:"recipient"`
					AmountCents int64  `json:"amount_cents"`
					Memo        string `json:"memo"`
				}
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, err
				}
				result, err := id.TransferCredits(ctx.(context.Context), args.Recipient, args.AmountCents, args.Memo)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			})
		case "fund_child":
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var args struct {
					ChildIdent  string `json:"child_ident"`
					AmountCents int64  `json:"amount_cents"`
				}
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, err
				}
				result, err := id.FundChild(ctx.(context.Context), args.ChildIdent, args.AmountCents)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			})
		case "x402_fetch":
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var args struct {
					Domain      string `json:"domain"`
					AmountCents int64  `json:"amount_cents"`
				}
				if err := json.Unmarshal(payload, &args); err != nil {
					return nil, err
				}
				result, err := id.X402Pay(ctx.(context.Context), args.Domain, args.AmountCents)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			})
		case "send_message":
			if sender == nil {
				continue
			}
			catalogue[i] = tools.WithExecute(spec, func(ctx any, payload json.RawMessage) (json.RawMessage, error) {
				var msg messaging.Message
				if err := json.Unmarshal(payload, &msg); err != nil {
					return nil, err
				}
				result, err := sender.Send(ctx.(context.Context), msg)
				if err != nil {
					return nil, err
				}
				return json.Marshal(result)
			})
		}
	}
	return catalogue
}

// buildScheduler registers the housekeeping tasks every process lifetime
// needs regardless of the tool catalogue: spend-record pruning, stale
// approval expiry, and stuck inbox reclamation.
func buildScheduler(s *store.Store, bal scheduler.BalanceSource, tracker *spend.Tracker, approvals *approval.Broker, inboxBox *inbox.Box, cfg config.Config, log telemetry.Logger) *scheduler.Scheduler {
	tasks := []scheduler.Task{
		{
			Name: "prune_spend_records",
			Run: func(ctx context.Context, _ scheduler.TickContext) (scheduler.TaskResult, error) {
				_, err := tracker.PruneOldRecords(ctx, 90)
				return scheduler.TaskResult{}, err
			},
		},
		{
			Name: "expire_stale_approvals",
			Run: func(ctx context.Context, _ scheduler.TickContext) (scheduler.TaskResult, error) {
				n, err := approvals.ExpireStale(ctx)
				if err != nil {
					return scheduler.TaskResult{}, err
				}
				return scheduler.TaskResult{ShouldWake: n > 0, WakeReason: "approvals_expired"}, nil
			},
		},
		{
			Name: "reclaim_stuck_inbox",
			Run: func(ctx context.Context, _ scheduler.TickContext) (scheduler.TaskResult, error) {
				n, err := inboxBox.ReclaimStuck(ctx, 10*time.Minute)
				if err != nil {
					return scheduler.TaskResult{}, err
				}
				return scheduler.TaskResult{ShouldWake: n > 0, WakeReason: "inbox_reclaimed"}, nil
			},
		},
	}
	return scheduler.New(s, bal, cfg.Scheduler.ToSchedulerConfig(), tasks, scheduler.WithLogger(log))
}

// mainLoop alternates scheduler ticks with agent loop steps until ctx is
// cancelled, sleeping for whatever duration each cycle reports.
func mainLoop(ctx context.Context, sched *scheduler.Scheduler, controller *agentloop.Controller, cfg config.Config, log telemetry.Logger) error {
	tick := cfg.Scheduler.TickInterval()
	if tick <= 0 {
		tick = 30 * time.Second
	}

	for {
		if err := sched.Tick(ctx); err != nil {
			log.Error(ctx, "scheduler tick failed", "error", err)
		}

		outcome, err := controller.Step(ctx, nil)
		if err != nil {
			log.Error(ctx, "agent loop step failed", "error", err)
		}

		sleep := tick
		if outcome.SleepFor > 0 {
			sleep = outcome.SleepFor
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}
