package metrics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/KamisAyaka/solana-demos/sdk/anchor"
	"github.com/KamisAyaka/solana-demos/sdk/escrow"
)

// Job is the pushgateway job the escrow CLI pushes under.
const Job = "solana_demos_escrow"

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "solana_demos_escrow_build_info",
			Help: "Build information of the escrow orchestrator",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_demos_escrow_operations_total",
			Help: "Total number of escrow operations by outcome",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solana_demos_escrow_operation_duration_seconds",
			Help:    "Duration of escrow operations from build to confirmation",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
		},
		[]string{"operation"},
	)

	ProgramErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_demos_escrow_program_errors_total",
			Help: "Total number of escrow operations rejected by an on-chain program",
		},
		[]string{"operation", "code", "name"},
	)

	VerificationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solana_demos_escrow_verification_failures_total",
			Help: "Total number of confirmed operations whose resulting state did not match expectations",
		},
		[]string{"operation"},
	)
)

// RecordOperation records the outcome of an escrow operation. Status is
// "success", "rejected" for an on-chain program error, "unverified" when the
// confirmed state did not match, or "error".
func RecordOperation(operation string, duration time.Duration, err error) {
	status := "success"
	var pe *anchor.ProgramError
	switch {
	case err == nil:
	case errors.As(err, &pe):
		status = "rejected"
		ProgramErrorsTotal.WithLabelValues(operation, strconv.FormatUint(uint64(pe.Code), 10), pe.Name).Inc()
	case errors.Is(err, escrow.ErrVerificationFailed):
		status = "unverified"
		VerificationFailuresTotal.WithLabelValues(operation).Inc()
	default:
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Push sends everything g gathers to the pushgateway at url, replacing the
// job's previous push. The CLI exits after one command, so it has no
// scrape endpoint.
func Push(ctx context.Context, url, instance string, g prometheus.Gatherer) error {
	p := push.New(url, Job).Gatherer(g)
	if instance != "" {
		p = p.Grouping("instance", instance)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
