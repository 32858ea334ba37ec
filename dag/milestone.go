package dag

import (
	"sort"

	"github.com/cr0ssing/iota-local-gtta/logger"

	"go.uber.org/zap"
)

// AdvanceMilestone makes milestone the latest one if it is newer. The confirmation set of
// the new milestone is opened by the first RecordMilestoneConfirmation for it, so the caller
// can prune the retention window in between.
func (t *Tangle) AdvanceMilestone(milestone int) bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.advance(milestone)
}

func (t *Tangle) advance(milestone int) bool {
	if milestone <= t.latestMilestone {
		return false
	}
	logger.Logger.Info("New milestone", zap.Int("milestone", milestone))
	t.latestMilestone = milestone
	return true
}

// RecordMilestoneConfirmation records that hash was confirmed by milestone and reports
// whether milestone is newer than the latest one.
// Confirmations for older milestones whose set no longer exists are ignored.
func (t *Tangle) RecordMilestoneConfirmation(milestone int, hash string) bool {
	t.mux.Lock()
	defer t.mux.Unlock()

	rollover := t.advance(milestone)
	confirmed, ok := t.milestones[milestone]
	if !ok {
		if milestone != t.latestMilestone {
			logger.Logger.Debug("Confirmation outside retention window",
				zap.Int("milestone", milestone), zap.String("hash", hash))
			return rollover
		}
		confirmed = make(map[string]struct{})
		t.milestones[milestone] = confirmed
	}
	if _, known := t.txs[hash]; !known {
		return rollover
	}
	confirmed[hash] = struct{}{}

	if len(t.milestones)-1 > t.availableDepth {
		t.availableDepth++
		logger.Logger.Info("Depth is available", zap.Int("depth", t.availableDepth))
	}
	return rollover
}

// PruneRetentionWindow cuts the tangle at the retention boundary of the latest milestone M.
// Transactions confirmed at or before M-markDepth lose their trunk and branch, transactions
// confirmed at or before M-deleteDepth are removed entirely. Both bounds are inclusive so a
// milestone missing from the feed cannot leave older sets behind. The removed hashes are
// returned in milestone order.
func (t *Tangle) PruneRetentionWindow(markDepth, deleteDepth int) []string {
	t.mux.Lock()
	defer t.mux.Unlock()

	markIndex := t.latestMilestone - markDepth
	deleteIndex := t.latestMilestone - deleteDepth

	indexes := make([]int, 0, len(t.milestones))
	for ms, confirmed := range t.milestones {
		if len(confirmed) == 0 && ms != t.latestMilestone {
			delete(t.milestones, ms)
			continue
		}
		if ms <= markIndex {
			indexes = append(indexes, ms)
		}
	}
	sort.Ints(indexes)

	var removed []string
	for _, ms := range indexes {
		confirmed := t.milestones[ms]
		if ms > deleteIndex {
			logger.Logger.Debug("Mark milestone", zap.Int("milestone", ms), zap.Int("txs", len(confirmed)))
			for hash := range confirmed {
				if n, ok := t.txs[hash]; ok {
					t.detach(hash, n)
				}
			}
			continue
		}

		logger.Logger.Debug("Delete milestone", zap.Int("milestone", ms), zap.Int("txs", len(confirmed)))
		hashes := make([]string, 0, len(confirmed))
		for hash := range confirmed {
			hashes = append(hashes, hash)
		}
		sort.Strings(hashes)
		for _, hash := range hashes {
			if t.remove(hash) {
				removed = append(removed, hash)
			}
		}
		delete(t.milestones, ms)
	}
	return removed
}

// EntryPoints returns the transactions confirmed by milestone.
func (t *Tangle) EntryPoints(milestone int) ([]string, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()

	confirmed, ok := t.milestones[milestone]
	if !ok {
		return nil, false
	}
	entries := make([]string, 0, len(confirmed))
	for hash := range confirmed {
		entries = append(entries, hash)
	}
	return entries, true
}

// LatestMilestone returns the highest milestone seen, or -1 before the first one.
func (t *Tangle) LatestMilestone() int {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return t.latestMilestone
}

// AvailableDepth is the number of milestones behind the latest one a walk may start at,
// or -1 if no milestone has confirmed anything yet.
func (t *Tangle) AvailableDepth() int {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return t.availableDepth
}

// remove deletes hash from every index. Caller holds the write lock.
func (t *Tangle) remove(hash string) bool {
	n, ok := t.txs[hash]
	if !ok {
		return false
	}
	t.detach(hash, n)
	for child := range n.approvers {
		if c, ok := t.txs[child]; ok {
			if c.trunk == hash {
				c.trunk = ""
			}
			if c.branch == hash {
				c.branch = ""
			}
		}
	}
	if t.tails[n.bundle] == hash {
		delete(t.tails, n.bundle)
	}
	delete(t.txs, hash)
	return true
}

// detach cuts the trunk and branch edges of n in both directions.
func (t *Tangle) detach(hash string, n *node) {
	for _, parent := range []string{n.trunk, n.branch} {
		if p, ok := t.txs[parent]; ok {
			delete(p.approvers, hash)
		}
	}
	n.trunk = ""
	n.branch = ""
}
