package feed

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
)

const maxLineSize = 64 * 1024

// Reader replays newline separated feed messages, for example a recorded capture of the
// node's feed. Poll returns io.EOF once the input is exhausted.
type Reader struct {
	scanner   *bufio.Scanner
	batchSize int
}

// NewReader reads up to batchSize lines per Poll.
func NewReader(r io.Reader, batchSize int) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Reader{scanner: scanner, batchSize: batchSize}
}

// Poll returns the next batch of non-empty lines.
func (r *Reader) Poll(ctx context.Context) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var frames [][]byte
	for len(frames) < r.batchSize && r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frames = append(frames, append([]byte(nil), line...))
	}
	if err := r.scanner.Err(); err != nil {
		return frames, errors.Wrap(err, "reading feed")
	}
	if len(frames) == 0 {
		return nil, io.EOF
	}
	return frames, nil
}
