package monitor

import (
	"context"
	"slices"
	"sync"
	"time"

	evaluator "gitlab.com/safex/safex.telemetry/src/production/SFX.Evaluator"
	logger "gitlab.com/safex/safex.telemetry/src/production/SFX.Logger"
	metrics "gitlab.com/safex/safex.telemetry/src/production/SFX.Metrics"
	sfxmodels "gitlab.com/safex/safex.telemetry/src/production/SFX.Models"
)

// LatestSource answers the latest-reading query, normally over HTTP.
type LatestSource interface {
	GetLatest(ctx context.Context) (sfxmodels.LatestResult, error)
}

// Snapshot is what the monitor knows after its most recent poll.
type Snapshot struct {
	Verdict    sfxmodels.Verdict     `json:"verdict"`
	Reading    *sfxmodels.Reading    `json:"reading,omitempty"`
	PollStatus sfxmodels.QueryStatus `json:"poll_status,omitempty"`
	PolledAt   *time.Time            `json:"polled_at,omitempty"`
	PollError  string                `json:"poll_error,omitempty"`
}

// Monitor polls the query API on a fixed cadence and re-evaluates the
// device after every poll.
type Monitor struct {
	source    LatestSource
	evaluator *evaluator.Evaluator
	interval  time.Duration
	logger    *logger.Logger

	mu       sync.RWMutex
	snapshot Snapshot
	polled   bool
}

func New(source LatestSource, eval *evaluator.Evaluator, interval time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		source:    source,
		evaluator: eval,
		interval:  interval,
		logger:    log.WithComponent("monitor"),
		snapshot:  Snapshot{Verdict: eval.Evaluate(nil)},
	}
}

// Run polls immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopped")
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Poll asks for the latest reading once and evaluates it. An unavailable
// answer keeps the last known reading, so the device still goes offline once
// that reading is older than the stale threshold.
func (m *Monitor) Poll(ctx context.Context) sfxmodels.Verdict {
	pollCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	res, err := m.source.GetLatest(pollCtx)
	if err != nil && res.Status != sfxmodels.QueryUnavailable {
		res = sfxmodels.LatestResult{Status: sfxmodels.QueryUnavailable, Error: err.Error()}
	}
	metrics.MonitorPolls.WithLabelValues(string(res.Status)).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.snapshot
	next := Snapshot{Reading: prev.Reading, PollStatus: res.Status}

	switch res.Status {
	case sfxmodels.QueryFound:
		next.Reading = res.Reading
	case sfxmodels.QueryNotFound:
		next.Reading = nil
	default:
		next.PollError = res.Error
		m.logger.Logger.Warn().Str("error", res.Error).Msg("Latest reading unavailable, keeping last known reading")
	}

	next.Verdict = m.evaluator.Evaluate(next.Reading)
	polledAt := next.Verdict.EvaluatedAt
	next.PolledAt = &polledAt

	m.logTransitions(prev.Verdict, next.Verdict, !m.polled)
	metrics.SetVerdict(next.Verdict)

	m.snapshot = next
	m.polled = true
	return next.Verdict
}

// Verdict returns the verdict from the last poll.
func (m *Monitor) Verdict() sfxmodels.Verdict {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Verdict
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func (m *Monitor) logTransitions(prev, next sfxmodels.Verdict, first bool) {
	if first || prev.Online != next.Online {
		ev := m.logger.Logger.Info()
		if !next.Online {
			ev = m.logger.Logger.Warn()
		}
		ev.Bool("online", next.Online).
			Str("status", string(next.Status)).
			Dur("staleness", next.Staleness).
			Msg("Device liveness changed")
	}

	before, after := alertKinds(prev), alertKinds(next)
	if first || !slices.Equal(before, after) {
		m.logger.Logger.Info().
			Strs("alerts", after).
			Strs("previous", before).
			Str("status", string(next.Status)).
			Msg("Active alerts changed")
	}
}

func alertKinds(v sfxmodels.Verdict) []string {
	kinds := make([]string, 0, len(v.Alerts))
	for _, a := range v.Alerts {
		kinds = append(kinds, string(a.Kind))
	}
	slices.Sort(kinds)
	return kinds
}
