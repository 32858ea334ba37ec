package tipselection_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cr0ssing/iota-local-gtta/dag"
	"github.com/cr0ssing/iota-local-gtta/metrics"
	"github.com/cr0ssing/iota-local-gtta/models"
	"github.com/cr0ssing/iota-local-gtta/tipselection"
)

// FakeChecker fails every batch containing a conflicting hash.
type FakeChecker struct {
	mu       sync.Mutex
	conflict map[string]bool
	failAll  bool
	batches  [][]string
}

func (f *FakeChecker) CheckConsistent(_ context.Context, hashes ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), hashes...))
	if f.failAll {
		return false
	}
	for _, h := range hashes {
		if f.conflict[h] {
			return false
		}
	}
	return true
}

func insertTail(tangle *dag.Tangle, hash, trunk, branch string) {
	tangle.InsertTransaction(models.TransactionEvent{Hash: hash, Bundle: "bundle-" + hash, Trunk: trunk, Branch: branch, Tail: true})
	tangle.PropagateApprovalWeight(hash)
}

func newSelector(tangle *dag.Tangle, checker tipselection.ConsistencyChecker, seed int64) *tipselection.Selector {
	return tipselection.NewSelector(tangle, checker, metrics.NewMetrics("test", prometheus.NewRegistry()),
		tipselection.WithRand(func() *rand.Rand { return rand.New(rand.NewSource(seed)) }))
}

func TestSelectTips_SingleEntryWithoutApprovers(t *testing.T) {
	tangle := dag.NewTangle()
	tangle.InsertTransaction(models.TransactionEvent{Hash: "A", Bundle: "B1", Tail: true})
	tangle.RecordMilestoneConfirmation(10, "A")

	tips, err := newSelector(tangle, &FakeChecker{}, 1).SelectTips(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.TipPair{Trunk: "A", Branch: "A"}, tips)
}

func TestSelectTips_WalksToOnlyApprover(t *testing.T) {
	tangle := dag.NewTangle()
	tangle.InsertTransaction(models.TransactionEvent{Hash: "A", Bundle: "B1", Tail: true})
	tangle.InsertTransaction(models.TransactionEvent{Hash: "B", Bundle: "B2", Trunk: "A", Branch: "A", Tail: true})
	tangle.PropagateApprovalWeight("B")
	tangle.RecordMilestoneConfirmation(10, "A")

	checker := &FakeChecker{}
	tips, err := newSelector(tangle, checker, 1).SelectTips(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.TipPair{Trunk: "B", Branch: "B"}, tips)
	require.Len(t, checker.batches, 1)
	assert.Equal(t, []string{"B", "B"}, checker.batches[0])
}

func TestSelectTips_HopsToBundleTail(t *testing.T) {
	// A <- T1 (index 1 of bundle X) <- T0 (tail of X)
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	tangle.InsertTransaction(models.TransactionEvent{Hash: "T1", Bundle: "X", Trunk: "A", Branch: "A"})
	tangle.PropagateApprovalWeight("T1")
	tangle.InsertTransaction(models.TransactionEvent{Hash: "T0", Bundle: "X", Trunk: "T1", Branch: "A", Tail: true})
	tangle.PropagateApprovalWeight("T0")
	tangle.RecordMilestoneConfirmation(1, "A")

	tips, err := newSelector(tangle, &FakeChecker{}, 3).SelectTips(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.TipPair{Trunk: "T0", Branch: "T0"}, tips)
}

func TestSelectTips_BacktracksFromInconsistentPath(t *testing.T) {
	// A <- H <- H2 <- H3 <- H4 is conflicting, A <- G is fine
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "H", "A", "A")
	insertTail(tangle, "H2", "H", "H")
	insertTail(tangle, "H3", "H2", "H2")
	insertTail(tangle, "H4", "H3", "H3")
	insertTail(tangle, "G", "A", "A")
	tangle.RecordMilestoneConfirmation(1, "A")

	for seed := int64(0); seed < 50; seed++ {
		checker := &FakeChecker{conflict: map[string]bool{"H": true}}
		tips, err := newSelector(tangle, checker, seed).SelectTips(context.Background(), 0, "")
		require.NoError(t, err, "seed %d", seed)
		assert.Equal(t, models.TipPair{Trunk: "G", Branch: "G"}, tips, "seed %d", seed)
	}
}

func TestSelectTips_RetriesWhenPairIsInconsistent(t *testing.T) {
	// tips are reached before a batch is full, so only the pair check sees the conflict
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "H", "A", "A")
	insertTail(tangle, "G", "A", "A")
	tangle.RecordMilestoneConfirmation(1, "A")

	for seed := int64(0); seed < 20; seed++ {
		checker := &FakeChecker{conflict: map[string]bool{"H": true}}
		tips, err := newSelector(tangle, checker, seed).SelectTips(context.Background(), 0, "")
		require.NoError(t, err)
		assert.Equal(t, models.TipPair{Trunk: "G", Branch: "G"}, tips)
	}
}

func TestSelectTips_BlockedWalkHasNoTip(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "X1", "A", "A")
	insertTail(tangle, "X2", "X1", "X1")
	insertTail(tangle, "X3", "X2", "X2")
	insertTail(tangle, "X4", "X3", "X3")
	tangle.RecordMilestoneConfirmation(1, "A")

	checker := &FakeChecker{conflict: map[string]bool{"X3": true}}
	_, err := newSelector(tangle, checker, 1).SelectTips(context.Background(), 0, "")
	assert.True(t, errors.Is(err, tipselection.ErrNoConsistentTip), "got %v", err)
}

func TestSelectTips_MissingTailBlocksWalk(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	tangle.InsertTransaction(models.TransactionEvent{Hash: "N", Bundle: "no-tail", Trunk: "A", Branch: "A"})
	tangle.RecordMilestoneConfirmation(1, "A")

	_, err := newSelector(tangle, &FakeChecker{}, 1).SelectTips(context.Background(), 0, "")
	assert.True(t, errors.Is(err, tipselection.ErrNoConsistentTip), "got %v", err)
}

func TestSelectTips_ExhaustedEntryPoints(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "B", "", "")
	tangle.RecordMilestoneConfirmation(1, "A")
	tangle.RecordMilestoneConfirmation(1, "B")

	_, err := newSelector(tangle, &FakeChecker{failAll: true}, 1).SelectTips(context.Background(), 0, "")
	assert.True(t, errors.Is(err, tipselection.ErrNoConsistentEntryPoints), "got %v", err)
}

func TestSelectTips_DepthUnavailable(t *testing.T) {
	tangle := dag.NewTangle()
	selector := newSelector(tangle, &FakeChecker{}, 1)

	_, err := selector.SelectTips(context.Background(), 0, "")
	assert.True(t, errors.Is(err, tipselection.ErrDepthUnavailable))

	insertTail(tangle, "A", "", "")
	tangle.RecordMilestoneConfirmation(5, "A")
	_, err = selector.SelectTips(context.Background(), 3, "")
	assert.True(t, errors.Is(err, tipselection.ErrDepthUnavailable))

	// milestone opened but nothing confirmed yet
	tangle.RecordMilestoneConfirmation(6, "unknown")
	_, err = selector.SelectTips(context.Background(), 0, "")
	assert.True(t, errors.Is(err, tipselection.ErrDepthUnavailable))

	_, err = selector.SelectTips(context.Background(), -1, "")
	assert.True(t, errors.Is(err, tipselection.ErrDepthUnavailable))

	tips, err := selector.SelectTips(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, models.TipPair{Trunk: "A", Branch: "A"}, tips)
}

func TestSelectTips_InvalidReference(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	tangle.RecordMilestoneConfirmation(1, "A")

	_, err := newSelector(tangle, &FakeChecker{}, 1).SelectTips(context.Background(), 0, "UNKNOWN")
	assert.True(t, errors.Is(err, tipselection.ErrInvalidReference))
}

func TestSelectTips_BranchWalksFromReference(t *testing.T) {
	// A <- B is confirmed territory, R <- S is an unrelated subtangle
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "B", "A", "A")
	insertTail(tangle, "R", "", "")
	insertTail(tangle, "S", "R", "R")
	tangle.RecordMilestoneConfirmation(1, "A")

	tips, err := newSelector(tangle, &FakeChecker{}, 1).SelectTips(context.Background(), 0, "R")
	require.NoError(t, err)
	assert.Equal(t, models.TipPair{Trunk: "B", Branch: "S"}, tips)
}

func TestSelectTips_ReferenceBlockedFailsInsteadOfSubstituting(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "R", "", "")
	tangle.InsertTransaction(models.TransactionEvent{Hash: "N", Bundle: "no-tail", Trunk: "R", Branch: "R"})
	tangle.RecordMilestoneConfirmation(1, "A")

	_, err := newSelector(tangle, &FakeChecker{}, 1).SelectTips(context.Background(), 0, "R")
	assert.True(t, errors.Is(err, tipselection.ErrNoConsistentTip), "got %v", err)
}

func TestSelectTips_CanceledContext(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	tangle.RecordMilestoneConfirmation(1, "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSelector(tangle, &FakeChecker{}, 1).SelectTips(ctx, 0, "")
	assert.ErrorIs(t, err, context.Canceled)
}

// CancelingChecker cancels the selection on its first call, like a request timing out mid-walk.
type CancelingChecker struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (c *CancelingChecker) CheckConsistent(context.Context, ...string) bool {
	c.once.Do(c.cancel)
	return true
}

func TestSelectTips_CanceledDuringWalk(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	prev := "A"
	for i := 1; i <= 12; i++ {
		hash := fmt.Sprintf("X%d", i)
		insertTail(tangle, hash, prev, prev)
		prev = hash
	}
	tangle.RecordMilestoneConfirmation(1, "A")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := newSelector(tangle, &CancelingChecker{cancel: cancel}, 1).SelectTips(ctx, 0, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, tipselection.ErrNoConsistentTip), "got %v", err)
}

func TestSelectTips_BlockedWalkNamesEntry(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "A", "", "")
	insertTail(tangle, "B", "A", "A")
	tangle.RecordMilestoneConfirmation(1, "A")

	checker := &FakeChecker{conflict: map[string]bool{"B": true}}
	_, err := newSelector(tangle, checker, 1).SelectTips(context.Background(), 0, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, tipselection.ErrNoConsistentTip), "got %v", err)
	assert.Contains(t, err.Error(), "walk from A")
}

func TestSelectTips_VerifiesInBatches(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "tx-0", "", "")
	for i := 1; i <= 10; i++ {
		insertTail(tangle, fmt.Sprintf("tx-%d", i), fmt.Sprintf("tx-%d", i-1), fmt.Sprintf("tx-%d", i-1))
	}
	tangle.RecordMilestoneConfirmation(1, "tx-0")
	insertTail(tangle, "other", "", "")
	tangle.RecordMilestoneConfirmation(2, "other")

	// depth 1 -> batches of 8
	checker := &FakeChecker{}
	tips, err := newSelector(tangle, checker, 1).SelectTips(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, models.TipPair{Trunk: "tx-10", Branch: "tx-10"}, tips)

	var sizes []int
	for _, b := range checker.batches {
		sizes = append(sizes, len(b))
	}
	// one full batch per walk, then the pair
	assert.ElementsMatch(t, []int{8, 8, 2}, sizes)
}

func TestSelectTips_ConcurrentWithIngest(t *testing.T) {
	tangle := dag.NewTangle()
	insertTail(tangle, "tx-0", "", "")
	tangle.RecordMilestoneConfirmation(1, "tx-0")
	selector := tipselection.NewSelector(tangle, &FakeChecker{}, metrics.NewMetrics("test", prometheus.NewRegistry()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i < 300; i++ {
			insertTail(tangle, fmt.Sprintf("tx-%d", i), fmt.Sprintf("tx-%d", i-1), fmt.Sprintf("tx-%d", i/2))
		}
	}()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tips, err := selector.SelectTips(context.Background(), 0, "")
				if err != nil {
					// a tip may gain approvers while the walk is on it
					assert.True(t, errors.Is(err, tipselection.ErrNoConsistentTip), "got %v", err)
					continue
				}
				assert.NotEmpty(t, tips.Trunk)
				assert.NotEmpty(t, tips.Branch)
			}
		}()
	}
	wg.Wait()
}
