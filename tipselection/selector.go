package tipselection

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/cr0ssing/iota-local-gtta/dag"
	"github.com/cr0ssing/iota-local-gtta/logger"
	"github.com/cr0ssing/iota-local-gtta/metrics"
	"github.com/cr0ssing/iota-local-gtta/models"

	"go.uber.org/zap"
)

const DefaultAlpha = 0.001

var (
	// ErrDepthUnavailable is returned while the tangle holds no confirmed transactions for the depth.
	ErrDepthUnavailable = errors.New("tangle with this depth is not present")
	// ErrInvalidReference is returned for a reference transaction unknown to the tangle.
	ErrInvalidReference = errors.New("reference transaction is unknown")
	// ErrNoConsistentTip is returned when a walk ends without reaching a consistent tip.
	ErrNoConsistentTip = errors.New("no consistent tips could be found")
	// ErrNoConsistentEntryPoints is returned when every entry point turned out inconsistent.
	ErrNoConsistentEntryPoints = errors.New("no consistent entry points available")
)

// Tangle is the read access a selection needs.
type Tangle interface {
	LatestMilestone() int
	EntryPoints(milestone int) ([]string, bool)
	Contains(hash string) bool
	Approvers(hash string) []dag.Approver
	Tail(bundle string) (string, bool)
}

// ConsistencyChecker verifies that a batch of transactions can be approved together.
type ConsistencyChecker interface {
	CheckConsistent(ctx context.Context, hashes ...string) bool
}

// Selector picks two consistent tips with a weighted random walk from a confirmed milestone.
type Selector struct {
	tangle  Tangle
	checker ConsistencyChecker
	metrics *metrics.Metrics
	alpha   float64
	newRand func() *rand.Rand
}

// Option configures a Selector.
type Option func(*Selector)

// WithAlpha sets how strongly the walk prefers heavier approvers.
func WithAlpha(alpha float64) Option {
	return func(s *Selector) {
		s.alpha = alpha
	}
}

// WithRand sets the source of randomness of a selection. Each walk is seeded from it.
func WithRand(newRand func() *rand.Rand) Option {
	return func(s *Selector) {
		s.newRand = newRand
	}
}

// NewSelector creates a selector walking tangle and verifying with checker.
func NewSelector(tangle Tangle, checker ConsistencyChecker, m *metrics.Metrics, opts ...Option) *Selector {
	s := &Selector{
		tangle:  tangle,
		checker: checker,
		metrics: m,
		alpha:   DefaultAlpha,
		newRand: func() *rand.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectTips returns two consistent tips. The trunk comes from a walk starting at a random
// transaction confirmed depth milestones ago, the branch from a walk starting at reference
// if one is given.
func (s *Selector) SelectTips(ctx context.Context, depth int, reference string) (models.TipPair, error) {
	tips, err := s.selectTips(ctx, depth, reference)
	if err != nil {
		s.metrics.IncSelections(resultLabel(err))
		return models.TipPair{}, err
	}
	s.metrics.IncSelections("ok")
	return tips, nil
}

func (s *Selector) selectTips(ctx context.Context, depth int, reference string) (models.TipPair, error) {
	if depth < 0 {
		return models.TipPair{}, errors.Wrapf(ErrDepthUnavailable, "negative depth %d", depth)
	}
	entryMilestone := s.tangle.LatestMilestone() - depth
	entries, ok := s.tangle.EntryPoints(entryMilestone)
	if !ok || len(entries) == 0 {
		return models.TipPair{}, errors.Wrapf(ErrDepthUnavailable, "milestone %d", entryMilestone)
	}
	if reference != "" && !s.tangle.Contains(reference) {
		return models.TipPair{}, errors.Wrapf(ErrInvalidReference, "reference %s", reference)
	}

	inconsistent := newHashSet()
	batchSize := (depth + 1) * 4
	rnd := s.newRand()

	for {
		if err := ctx.Err(); err != nil {
			return models.TipPair{}, err
		}
		entries = inconsistent.filter(entries)
		if len(entries) == 0 {
			return models.TipPair{}, ErrNoConsistentEntryPoints
		}

		first := entries[rnd.Intn(len(entries))]
		second := reference
		if second == "" {
			second = entries[rnd.Intn(len(entries))]
		}

		var trunk, branch string
		walkRands := []*rand.Rand{rand.New(rand.NewSource(rnd.Int63())), rand.New(rand.NewSource(rnd.Int63()))}
		// a blocked walk cancels the other one
		g, walkCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			trunk, err = s.walk(walkCtx, first, batchSize, walkRands[0], inconsistent)
			return err
		})
		g.Go(func() error {
			var err error
			branch, err = s.walk(walkCtx, second, batchSize, walkRands[1], inconsistent)
			return err
		})
		if err := g.Wait(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.TipPair{}, ctxErr
			}
			return models.TipPair{}, err
		}

		if s.checker.CheckConsistent(ctx, trunk, branch) {
			return models.TipPair{Trunk: trunk, Branch: branch}, nil
		}

		logger.Logger.Debug("Selected tips are not consistent. Try again.",
			zap.String("trunk", trunk), zap.String("branch", branch))
		inconsistent.add(trunk, branch)
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrDepthUnavailable):
		return "depth_unavailable"
	case errors.Is(err, ErrInvalidReference):
		return "invalid_reference"
	case errors.Is(err, ErrNoConsistentTip):
		return "no_consistent_tip"
	case errors.Is(err, ErrNoConsistentEntryPoints):
		return "no_consistent_entry_points"
	default:
		return "error"
	}
}

// hashSet is the call scoped set of transactions found inconsistent, shared by both walks.
type hashSet struct {
	mu     sync.RWMutex
	hashes map[string]struct{}
}

func newHashSet() *hashSet {
	return &hashSet{hashes: make(map[string]struct{})}
}

func (h *hashSet) add(hashes ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, hash := range hashes {
		h.hashes[hash] = struct{}{}
	}
}

func (h *hashSet) has(hash string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.hashes[hash]
	return ok
}

// filter returns the hashes not in the set.
func (h *hashSet) filter(hashes []string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	kept := make([]string, 0, len(hashes))
	for _, hash := range hashes {
		if _, ok := h.hashes[hash]; !ok {
			kept = append(kept, hash)
		}
	}
	return kept
}
