package dag

import (
	"sort"
	"sync"

	"github.com/cr0ssing/iota-local-gtta/logger"
	"github.com/cr0ssing/iota-local-gtta/models"

	"go.uber.org/zap"
)

// node is a transaction in the arena. All edges are hashes looked up in Tangle.txs.
type node struct {
	hash      string
	bundle    string
	trunk     string
	branch    string
	tail      bool
	weight    int
	approvers map[string]struct{}
}

// Approver is a snapshot of a direct approver, as needed by the random walk.
type Approver struct {
	Hash   string
	Bundle string
	Weight int
}

// Stats summarizes the size of the replica.
type Stats struct {
	LatestMilestone int `json:"latest_milestone"`
	AvailableDepth  int `json:"available_depth"`
	Transactions    int `json:"transactions"`
	Tails           int `json:"tails"`
	Milestones      int `json:"milestones"`
}

// Tangle is the in-memory replica of the transaction DAG.
// Ingest is the only writer; readers get copies so they never see a half applied update.
type Tangle struct {
	mux sync.RWMutex

	txs        map[string]*node
	tails      map[string]string // bundle -> tail hash
	milestones map[int]map[string]struct{}

	latestMilestone int
	availableDepth  int
}

// NewTangle returns an empty tangle with no milestone seen yet.
func NewTangle() *Tangle {
	t := &Tangle{}
	t.reset()
	return t
}

// Reset drops every transaction and milestone.
func (t *Tangle) Reset() {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.reset()
}

func (t *Tangle) reset() {
	t.txs = make(map[string]*node)
	t.tails = make(map[string]string)
	t.milestones = make(map[int]map[string]struct{})
	t.latestMilestone = -1
	t.availableDepth = -1
}

// InsertTransaction adds a transaction and links it to its trunk and branch if they are known.
// It returns false without touching the tangle if the hash is already present.
func (t *Tangle) InsertTransaction(tx models.TransactionEvent) (models.Transaction, bool) {
	t.mux.Lock()
	defer t.mux.Unlock()

	if existing, ok := t.txs[tx.Hash]; ok {
		logger.Logger.Debug("Transaction already known", zap.String("hash", tx.Hash))
		return existing.snapshot(), false
	}

	n := &node{
		hash:      tx.Hash,
		bundle:    tx.Bundle,
		tail:      tx.Tail,
		approvers: make(map[string]struct{}),
	}
	if trunk, ok := t.txs[tx.Trunk]; ok {
		n.trunk = trunk.hash
		trunk.approvers[n.hash] = struct{}{}
	}
	if branch, ok := t.txs[tx.Branch]; ok {
		n.branch = branch.hash
		branch.approvers[n.hash] = struct{}{}
	}
	t.txs[n.hash] = n

	if n.tail {
		t.tails[n.bundle] = n.hash
	}
	return n.snapshot(), true
}

// PropagateApprovalWeight increments the weight of every ancestor of hash exactly once.
func (t *Tangle) PropagateApprovalWeight(hash string) {
	t.mux.Lock()
	defer t.mux.Unlock()

	n, ok := t.txs[hash]
	if !ok {
		return
	}

	visited := make(map[string]struct{})
	stack := []string{n.trunk, n.branch}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == "" {
			continue
		}
		if _, seen := visited[h]; seen {
			continue
		}
		ancestor, ok := t.txs[h]
		if !ok {
			continue
		}
		visited[h] = struct{}{}
		ancestor.weight++
		stack = append(stack, ancestor.trunk, ancestor.branch)
	}
}

// Transaction returns a snapshot of the transaction with the given hash.
func (t *Tangle) Transaction(hash string) (models.Transaction, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()

	n, ok := t.txs[hash]
	if !ok {
		return models.Transaction{}, false
	}
	return n.snapshot(), true
}

// Contains reports whether hash is held in the tangle.
func (t *Tangle) Contains(hash string) bool {
	t.mux.RLock()
	defer t.mux.RUnlock()

	_, ok := t.txs[hash]
	return ok
}

// Tail returns the hash of the registered tail of bundle.
func (t *Tangle) Tail(bundle string) (string, bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()

	hash, ok := t.tails[bundle]
	return hash, ok
}

// Approvers returns the direct approvers of hash that are still present, sorted by hash.
func (t *Tangle) Approvers(hash string) []Approver {
	t.mux.RLock()
	defer t.mux.RUnlock()

	n, ok := t.txs[hash]
	if !ok {
		return nil
	}
	approvers := make([]Approver, 0, len(n.approvers))
	for h := range n.approvers {
		a, ok := t.txs[h]
		if !ok {
			continue
		}
		approvers = append(approvers, Approver{Hash: a.hash, Bundle: a.bundle, Weight: a.weight})
	}
	sort.Slice(approvers, func(i, j int) bool { return approvers[i].Hash < approvers[j].Hash })
	return approvers
}

// Stats returns the current size of the tangle.
func (t *Tangle) Stats() Stats {
	t.mux.RLock()
	defer t.mux.RUnlock()

	return Stats{
		LatestMilestone: t.latestMilestone,
		AvailableDepth:  t.availableDepth,
		Transactions:    len(t.txs),
		Tails:           len(t.tails),
		Milestones:      len(t.milestones),
	}
}

func (n *node) snapshot() models.Transaction {
	approvers := make([]string, 0, len(n.approvers))
	for h := range n.approvers {
		approvers = append(approvers, h)
	}
	sort.Strings(approvers)
	return models.Transaction{
		Hash:            n.hash,
		Bundle:          n.bundle,
		Trunk:           n.trunk,
		Branch:          n.branch,
		Tail:            n.tail,
		Weight:          n.weight,
		DirectApprovers: approvers,
	}
}
