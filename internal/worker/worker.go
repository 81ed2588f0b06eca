// Package worker provides async ring alerting for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultRiskThreshold is the minimum ring risk score that raises an alert.
const DefaultRiskThreshold = 75.0

// Worker consumes run-completed events from the EventBus and publishes
// a ring alert for every fraud ring at or above the risk threshold.
type Worker struct {
	bus           domain.EventBus
	repo          domain.Repository
	riskThreshold float64

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// RiskThreshold overrides DefaultRiskThreshold when > 0
	RiskThreshold float64
}

// NewWorker creates a new alert worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, riskThreshold float64) *Worker {
	if riskThreshold <= 0 {
		riskThreshold = DefaultRiskThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		repo:          repo,
		riskThreshold: riskThreshold,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins processing run-completed events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.RiskThreshold > 0 {
		w.riskThreshold = cfg.RiskThreshold
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicRunCompleted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRunCompleted, func(ctx context.Context, msg *domain.Message) error {
		return w.processRun(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicRunCompleted,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRun(ctx, msg.TenantID, msg)
}

// RunCompletedMessage is the payload published when an analysis run finishes.
type RunCompletedMessage struct {
	RunID              string `json:"runId"`
	TenantID           string `json:"tenantId"`
	Filename           string `json:"filename"`
	SuspiciousAccounts int    `json:"suspiciousAccounts"`
	FraudRings         int    `json:"fraudRings"`
}

// RingAlertMessage is the payload published for each high-risk ring.
type RingAlertMessage struct {
	RunID          string   `json:"runId"`
	RingID         string   `json:"ringId"`
	PatternType    string   `json:"patternType"`
	RiskScore      float64  `json:"riskScore"`
	MemberAccounts []string `json:"memberAccounts"`
}

// processRun loads the archived run and raises alerts for high-risk rings.
func (w *Worker) processRun(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var runMsg RunCompletedMessage
	if err := json.Unmarshal(msg.Payload, &runMsg); err != nil {
		slog.Error("failed to parse run-completed message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if runMsg.TenantID != "" {
		tenantID = runMsg.TenantID
	}

	if runMsg.FraudRings == 0 {
		return nil
	}

	run, err := w.repo.GetRun(ctx, tenantID, runMsg.RunID)
	if err != nil {
		slog.Error("failed to load run for alerting",
			"run_id", runMsg.RunID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}
	if run.Result == nil {
		return nil
	}

	alerted := 0
	for _, ring := range run.Result.Rings {
		if ring.RiskScore < w.riskThreshold {
			continue
		}

		alert := RingAlertMessage{
			RunID:          runMsg.RunID,
			RingID:         ring.RingID,
			PatternType:    ring.PatternType,
			RiskScore:      ring.RiskScore,
			MemberAccounts: ring.MemberAccounts,
		}

		payload, _ := json.Marshal(alert)
		if err := w.bus.Publish(ctx, tenantID, domain.TopicRingAlert, payload); err != nil {
			slog.Error("failed to publish ring alert",
				"ring_id", ring.RingID,
				"error", err,
			)
			continue
		}
		alerted++
	}

	slog.Info("run processed",
		"run_id", runMsg.RunID,
		"tenant_id", tenantID,
		"rings", len(run.Result.Rings),
		"alerts", alerted,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
