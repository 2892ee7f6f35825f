package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/osmc/speedtest-osmc/speedtest/control"
)

// DataChunk is one download worker's view of a response stream. Every chunk
// it reads is reported to the shared controller in bits.
type DataChunk struct {
	worker    int
	ctrl      control.Controller
	clock     control.Clock
	start     time.Time
	limit     time.Duration
	startTime time.Time
	endTime   time.Time
	received  int64
	used      bool
}

// NewChunk binds a worker to the pass it belongs to. start is the pass start,
// limit the maximum time the pass may run.
func NewChunk(worker int, ctrl control.Controller, clock control.Clock, start time.Time, limit time.Duration) *DataChunk {
	if clock == nil {
		clock = control.SystemClock
	}
	return &DataChunk{worker: worker, ctrl: ctrl, clock: clock, start: start, limit: limit}
}

// Expired reports whether the pass has run past its limit.
func (dc *DataChunk) Expired() bool {
	return dc.clock.Now().Sub(dc.start) > dc.limit
}

// Len returns the bytes this worker has received.
func (dc *DataChunk) Len() int64 {
	return dc.received
}

// Duration Get chunk duration (start -> end)
func (dc *DataChunk) Duration() time.Duration {
	return dc.endTime.Sub(dc.startTime)
}

// DownloadHandler reads r in fixed DefaultReadChunkSize chunks until the
// stream is exhausted, ctx is done, or the pass limit is exceeded. Both
// exhaustion and cancellation return nil; only a genuine read failure is
// returned. The limit is checked between reads, so one slow read can overrun it.
func (dc *DataChunk) DownloadHandler(ctx context.Context, r io.Reader) error {
	if dc.used {
		return control.ErrDuplicateCall
	}
	dc.used = true
	dc.startTime = dc.clock.Now()
	defer func() {
		dc.endTime = dc.clock.Now()
	}()
	bufP := control.BlackHole.Get().(*[]byte)
	defer control.BlackHole.Put(bufP)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if dc.Expired() {
			return nil
		}
		readSize, err := io.ReadFull(r, *bufP)
		if readSize > 0 {
			rs := int64(readSize)
			dc.received += rs
			dc.ctrl.Add(dc.worker, rs*8)
		}
		if err != nil {
			// a short final chunk means the next read would return nothing
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
