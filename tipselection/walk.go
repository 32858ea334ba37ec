package tipselection

import (
	"context"
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/cr0ssing/iota-local-gtta/dag"
	"github.com/cr0ssing/iota-local-gtta/logger"

	"go.uber.org/zap"
)

// walk follows approvers from entry until it reaches a tip. Every batchSize steps the
// transactions walked since the last check are verified; on failure they are marked
// inconsistent and the walk goes back to the last verified transaction.
// It fails with ErrNoConsistentTip if every remaining path is blocked by inconsistent
// transactions, or with the context error if ctx is done.
func (s *Selector) walk(ctx context.Context, entry string, batchSize int, rnd *rand.Rand, inconsistent *hashSet) (string, error) {
	current := entry
	lastGood := entry
	var pending []string
	traversed := make(map[string]struct{})

	approvers := s.eligibleApprovers(current, inconsistent)
	for len(approvers) > 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		traversed[current] = struct{}{}

		index := pick(approvers, s.alpha, rnd)
		approver := approvers[index]

		tail, ok := s.tangle.Tail(approver.Bundle)
		if !ok {
			logger.Logger.Debug("Tail of approver is not present",
				zap.String("tx", current), zap.String("approver", approver.Hash))
			approvers = append(approvers[:index], approvers[index+1:]...)
			continue
		}
		// a reattached bundle may resolve to a tail behind the walk
		if _, seen := traversed[tail]; seen || inconsistent.has(tail) {
			logger.Logger.Debug("Tail of approver was already visited",
				zap.String("tx", current), zap.String("tail", tail))
			approvers = append(approvers[:index], approvers[index+1:]...)
			continue
		}

		current = tail
		pending = append(pending, current)
		if len(pending) >= batchSize {
			if s.checker.CheckConsistent(ctx, pending...) {
				lastGood = current
			} else {
				logger.Logger.Debug("Traversed txs aren't consistent. Go back.", zap.Int("steps", len(pending)))
				inconsistent.add(pending...)
				for _, hash := range pending {
					delete(traversed, hash)
				}
				inconsistent.add(approver.Hash)
				current = lastGood
			}
			pending = pending[:0]
		}
		approvers = s.eligibleApprovers(current, inconsistent)
	}

	if len(s.tangle.Approvers(current)) > 0 {
		logger.Logger.Warn("Can't find consistent tip.", zap.String("entry", entry))
		return "", errors.Wrapf(ErrNoConsistentTip, "walk from %s", entry)
	}
	logger.Logger.Debug("Traversed consistent txs for random walk", zap.Int("count", len(traversed)))
	return current, nil
}

func (s *Selector) eligibleApprovers(hash string, inconsistent *hashSet) []dag.Approver {
	all := s.tangle.Approvers(hash)
	eligible := all[:0]
	for _, a := range all {
		if !inconsistent.has(a.Hash) {
			eligible = append(eligible, a)
		}
	}
	return eligible
}

// pick selects an approver index by roulette over exp(alpha*(rating-maxRating)).
// The last candidate is never tested against its threshold: it takes whatever mass is
// left, including floating point remainder.
func pick(approvers []dag.Approver, alpha float64, rnd *rand.Rand) int {
	maxRating := 0
	for _, a := range approvers {
		if rating := a.Weight + 1; rating > maxRating {
			maxRating = rating
		}
	}

	weights := make([]float64, len(approvers))
	var sum float64
	for i, a := range approvers {
		weights[i] = math.Exp(alpha * float64(a.Weight+1-maxRating))
		sum += weights[i]
	}

	target := rnd.Float64() * sum
	index := 0
	for ; index < len(weights)-1; index++ {
		target -= weights[index]
		if target <= 0 {
			break
		}
	}
	return index
}
