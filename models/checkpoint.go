package models

// Checkpoint is a summary of the tangle replica taken at a milestone rollover.
type Checkpoint struct {
	ID             string `json:"id"`
	Milestone      int    `json:"milestone"`
	AvailableDepth int    `json:"available_depth"`
	Transactions   int    `json:"transactions"`
	Tails          int    `json:"tails"`
	Pruned         int    `json:"pruned"`
	Timestamp      int64  `json:"timestamp"` // unix timestamp in ms
}
