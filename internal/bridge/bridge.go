package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/srihari-976/W.A.R.N/internal/orchestrator"
	"github.com/srihari-976/W.A.R.N/internal/response"
	"github.com/srihari-976/W.A.R.N/internal/risk"
)

// ErrInvalidAlert marks records rejected before orchestration. Intake
// transports log and drop these rather than retrying.
var ErrInvalidAlert = errors.New("invalid alert record")

// Bridge turns validated alert records into orchestrated responses. All
// intake transports share one bridge; Handle is safe for concurrent use.
type Bridge struct {
	orch      *orchestrator.Orchestrator
	scorer    risk.Scorer
	validator *Validator
	logger    *slog.Logger

	received     uint64
	rejected     uint64
	orchestrated uint64
}

// New creates a bridge. A nil scorer falls back to the weighted default.
func New(orch *orchestrator.Orchestrator, scorer risk.Scorer, logger *slog.Logger) *Bridge {
	if scorer == nil {
		scorer = risk.NewWeightedScorer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		orch:      orch,
		scorer:    scorer,
		validator: NewValidator(),
		logger:    logger.With("component", "bridge"),
	}
}

// Handle normalizes, validates, scores and orchestrates one alert record.
// Records without a severity get the scorer's category; records with one
// keep it. Returns the submitted instances in plan order.
func (b *Bridge) Handle(ctx context.Context, rec *AlertRecord) ([]*response.Instance, error) {
	atomic.AddUint64(&b.received, 1)

	Normalize(rec)
	if err := b.validator.Validate(rec); err != nil {
		atomic.AddUint64(&b.rejected, 1)
		return nil, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}

	assessment := b.scorer.Score(risk.Input{
		ThreatType: rec.ThreatType,
		Severity:   rec.Severity,
		Confidence: rec.Confidence,
	})

	severity := rec.Severity
	if severity == "" {
		severity = assessment.Category
		b.logger.Debug("severity assigned by scorer",
			"alert_id", rec.ID,
			"category", severity,
			"score", assessment.Score)
	}

	alert := orchestrator.Alert{
		ID:            rec.ID,
		ThreatType:    rec.ThreatType,
		Severity:      severity,
		Description:   rec.Description,
		AssetID:       rec.AssetID,
		SourceIP:      rec.SourceIP,
		DestinationIP: rec.DestinationIP,
		Timestamp:     rec.Timestamp,
	}

	submitted := b.orch.Orchestrate(ctx, alert)
	atomic.AddUint64(&b.orchestrated, 1)

	b.logger.Info("alert handled",
		"alert_id", rec.ID,
		"source", rec.Source,
		"threat_type", rec.ThreatType,
		"severity", severity,
		"risk_score", assessment.Score,
		"submitted", len(submitted))

	return submitted, nil
}

// Stats returns intake counters.
func (b *Bridge) Stats() map[string]interface{} {
	return map[string]interface{}{
		"received":     atomic.LoadUint64(&b.received),
		"rejected":     atomic.LoadUint64(&b.rejected),
		"orchestrated": atomic.LoadUint64(&b.orchestrated),
	}
}
