package models

// Transaction is a read-only snapshot of a node in the tangle replica.
type Transaction struct {
	Hash            string   `json:"hash"`             // transaction hash
	Bundle          string   `json:"bundle"`           // bundle the transaction belongs to
	Trunk           string   `json:"trunk,omitempty"`  // empty when unresolved or pruned
	Branch          string   `json:"branch,omitempty"` // empty when unresolved or pruned
	Tail            bool     `json:"tail"`             // index 0 of its bundle
	Weight          int      `json:"weight"`           // number of known descendants
	DirectApprovers []string `json:"direct_approvers"` // hashes referencing this transaction
}

// IsTip reports whether no known transaction approves this one.
func (t Transaction) IsTip() bool {
	return len(t.DirectApprovers) == 0
}

// TipPair is the result of a tip selection.
type TipPair struct {
	Trunk  string `json:"trunk"`
	Branch string `json:"branch"`
}
