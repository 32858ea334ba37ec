package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/cr0ssing/iota-local-gtta/dag"
	"github.com/cr0ssing/iota-local-gtta/logger"
	"github.com/cr0ssing/iota-local-gtta/metrics"
	"github.com/cr0ssing/iota-local-gtta/models"

	"go.uber.org/zap"
)

// Feed delivers raw feed messages in the order the node emitted them.
type Feed interface {
	Poll(ctx context.Context) ([][]byte, error)
}

// CacheEvicter drops consistency verdicts of pruned transactions.
type CacheEvicter interface {
	Forget(hashes ...string)
}

// CheckpointWriter persists a summary of the tangle at every milestone rollover.
type CheckpointWriter interface {
	PutCheckpoint(cp *models.Checkpoint) error
}

// Retention defines how far behind the latest milestone transactions are kept.
type Retention struct {
	MarkDepth   int // edges of transactions confirmed this many milestones back are cut
	DeleteDepth int // transactions confirmed this many milestones back are removed
}

var DefaultRetention = Retention{MarkDepth: 5, DeleteDepth: 6}

// Processor is the only writer of the tangle. It applies feed events one at a time.
type Processor struct {
	feed        Feed
	tangle      *dag.Tangle
	evicter     CacheEvicter
	checkpoints CheckpointWriter
	metrics     *metrics.Metrics
	retention   Retention
}

// NewProcessor creates a processor applying the events of feed to tangle.
func NewProcessor(feed Feed, tangle *dag.Tangle, evicter CacheEvicter, checkpoints CheckpointWriter, m *metrics.Metrics, retention Retention) *Processor {
	return &Processor{
		feed:        feed,
		tangle:      tangle,
		evicter:     evicter,
		checkpoints: checkpoints,
		metrics:     m,
		retention:   retention,
	}
}

// Run consumes the feed until ctx is done, the feed is exhausted or it fails.
func (p *Processor) Run(ctx context.Context) error {
	logger.Logger.Info("Starting ingest loop")
	for {
		frames, err := p.feed.Poll(ctx)
		if ctx.Err() != nil {
			logger.Logger.Info("Ingest loop stopped")
			return nil
		}
		for _, frame := range frames {
			p.ApplyFrame(frame)
		}
		if errors.Is(err, io.EOF) {
			logger.Logger.Info("Feed exhausted")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "polling feed")
		}
	}
}

// ApplyFrame parses and applies a single message. Undecodable messages are skipped.
func (p *Processor) ApplyFrame(frame []byte) {
	event, err := ParseFrame(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownTopic) {
			logger.Logger.Debug("Ignoring frame", zap.Error(err))
			return
		}
		logger.Logger.Warn("Skipping malformed frame", zap.ByteString("frame", frame), zap.Error(err))
		p.metrics.IncMalformedFrames()
		return
	}
	p.Apply(event)
}

// Apply applies a decoded event to the tangle.
func (p *Processor) Apply(event models.Event) {
	switch e := event.(type) {
	case models.TransactionEvent:
		p.applyTransaction(e)
	case models.ConfirmationEvent:
		p.applyConfirmation(e)
	}
}

func (p *Processor) applyTransaction(e models.TransactionEvent) {
	if _, created := p.tangle.InsertTransaction(e); !created {
		return
	}
	p.tangle.PropagateApprovalWeight(e.Hash)
	p.metrics.IncEvents("tx")
}

func (p *Processor) applyConfirmation(e models.ConfirmationEvent) {
	p.metrics.IncEvents("sn")
	if !p.tangle.AdvanceMilestone(e.Milestone) {
		p.tangle.RecordMilestoneConfirmation(e.Milestone, e.Hash)
		return
	}

	// prune before the new milestone accepts confirmations
	removed := p.tangle.PruneRetentionWindow(p.retention.MarkDepth, p.retention.DeleteDepth)
	p.evicter.Forget(removed...)
	p.metrics.AddPruned(len(removed))
	p.tangle.RecordMilestoneConfirmation(e.Milestone, e.Hash)

	stats := p.tangle.Stats()
	p.metrics.SetMilestone(stats.LatestMilestone, stats.AvailableDepth)
	p.metrics.SetSize(stats.Transactions, stats.Tails)
	logger.Logger.Info("Milestone rollover",
		zap.Int("milestone", stats.LatestMilestone),
		zap.Int("available_depth", stats.AvailableDepth),
		zap.Int("transactions", stats.Transactions),
		zap.Int("pruned", len(removed)))

	cp := &models.Checkpoint{
		ID:             fmt.Sprintf("%010d", stats.LatestMilestone),
		Milestone:      stats.LatestMilestone,
		AvailableDepth: stats.AvailableDepth,
		Transactions:   stats.Transactions,
		Tails:          stats.Tails,
		Pruned:         len(removed),
		Timestamp:      time.Now().UnixMilli(),
	}
	if err := p.checkpoints.PutCheckpoint(cp); err != nil {
		logger.Logger.Warn("Failed storing checkpoint", zap.Int("milestone", cp.Milestone), zap.Error(err))
	}
}
