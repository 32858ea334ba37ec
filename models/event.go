package models

// Event is a single decoded message of the node's event feed.
type Event interface {
	isEvent()
}

// TransactionEvent announces a transaction the node has seen.
type TransactionEvent struct {
	Hash   string
	Bundle string
	Trunk  string
	Branch string
	Tail   bool // currentIndex == 0
}

// ConfirmationEvent announces a transaction confirmed by a milestone.
type ConfirmationEvent struct {
	Milestone int
	Hash      string
}

func (TransactionEvent) isEvent()  {}
func (ConfirmationEvent) isEvent() {}
