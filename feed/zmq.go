package feed

import (
	"bytes"
	"context"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cr0ssing/iota-local-gtta/logger"
)

// Topics are the node's feed topics the tangle replica is built from.
var Topics = []string{"tx", "sn"}

// ZMQ subscribes to the message feed of a full node.
type ZMQ struct {
	endpoint string
	socket   zmq4.Socket
}

// NewZMQ dials endpoint and subscribes to Topics. The socket is closed when ctx is done.
func NewZMQ(ctx context.Context, endpoint string) (*ZMQ, error) {
	socket := zmq4.NewSub(ctx)
	if err := socket.Dial(endpoint); err != nil {
		socket.Close()
		return nil, errors.Wrapf(err, "dialing %s", endpoint)
	}
	for _, topic := range Topics {
		if err := socket.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			socket.Close()
			return nil, errors.Wrapf(err, "subscribing to %s", topic)
		}
	}
	logger.Logger.Info("Subscribed to node feed", zap.String("endpoint", endpoint), zap.Strings("topics", Topics))
	return &ZMQ{endpoint: endpoint, socket: socket}, nil
}

// Poll blocks until the next message arrives.
func (z *ZMQ) Poll(ctx context.Context) ([][]byte, error) {
	msg, err := z.socket.Recv()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(err, "receiving from %s", z.endpoint)
	}
	return [][]byte{joinFrames(msg.Frames)}, nil
}

// Close closes the socket.
func (z *ZMQ) Close() error {
	return z.socket.Close()
}

// joinFrames restores a message the publisher split into multiple frames.
func joinFrames(frames [][]byte) []byte {
	if len(frames) == 1 {
		return frames[0]
	}
	return bytes.Join(frames, []byte(" "))
}
