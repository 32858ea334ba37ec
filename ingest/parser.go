package ingest

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/cr0ssing/iota-local-gtta/models"
)

var (
	ErrUnknownTopic   = errors.New("unknown topic")
	ErrMalformedFrame = errors.New("malformed frame")
)

// field positions of the node's `tx` messages:
// tx hash address value obsoleteTag timestamp currentIndex lastIndex bundle trunk branch ...
const (
	txHash         = 1
	txCurrentIndex = 6
	txBundle       = 8
	txTrunk        = 9
	txBranch       = 10
	txMinFields    = 11
)

// field positions of `sn` messages: sn milestoneIndex hash address trunk branch bundle
const (
	snMilestone = 1
	snHash      = 2
	snMinFields = 3
)

// ParseFrame decodes a single space separated feed message.
func ParseFrame(frame []byte) (models.Event, error) {
	fields := strings.Fields(string(frame))
	if len(fields) == 0 {
		return nil, errors.Wrap(ErrMalformedFrame, "empty frame")
	}

	switch fields[0] {
	case "tx":
		if len(fields) < txMinFields {
			return nil, errors.Wrapf(ErrMalformedFrame, "tx frame has %d fields", len(fields))
		}
		return models.TransactionEvent{
			Hash:   fields[txHash],
			Bundle: fields[txBundle],
			Trunk:  fields[txTrunk],
			Branch: fields[txBranch],
			Tail:   fields[txCurrentIndex] == "0",
		}, nil
	case "sn":
		if len(fields) < snMinFields {
			return nil, errors.Wrapf(ErrMalformedFrame, "sn frame has %d fields", len(fields))
		}
		milestone, err := strconv.Atoi(fields[snMilestone])
		if err != nil || milestone < 0 {
			return nil, errors.Wrapf(ErrMalformedFrame, "invalid milestone index %q", fields[snMilestone])
		}
		return models.ConfirmationEvent{
			Milestone: milestone,
			Hash:      fields[snHash],
		}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownTopic, "topic %q", fields[0])
	}
}
