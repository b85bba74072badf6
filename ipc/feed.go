package ipc

import (
	"context"
	"fmt"
	"sync"

	"github.com/nstehr/autocast/model"
	"github.com/nstehr/autocast/monitor"
)

// Feed holds the newest snapshot pushed by a producer and hands it to the
// state monitor. Each snapshot is captured at most once; between pushes
// Capture reports monitor.ErrNoState.
type Feed struct {
	mu       sync.Mutex
	latest   model.GameState
	seq      uint64
	fresh    bool
	received uint64
	stale    uint64
}

type FeedStats struct {
	Received uint64 `json:"received"`
	Stale    uint64 `json:"stale"`
	LastSeq  uint64 `json:"lastSeq"`
}

func NewFeed() *Feed { return &Feed{} }

// Push stores s. A non-zero seq at or below the last accepted one is an
// out-of-order frame and is dropped. Producers that do not number frames
// send seq 0.
func (f *Feed) Push(seq uint64, s model.GameState) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received++
	if seq != 0 && seq <= f.seq {
		f.stale++
		return false
	}
	if seq != 0 {
		f.seq = seq
	}
	f.latest = s
	f.fresh = true
	return true
}

// Capture implements monitor.Source.
func (f *Feed) Capture(ctx context.Context) (model.GameState, error) {
	if err := ctx.Err(); err != nil {
		return model.GameState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fresh {
		return model.GameState{}, monitor.ErrNoState
	}
	f.fresh = false
	return f.latest.Clone(), nil
}

// HandleGameState is the game_state handler. It acks with the frame's seq.
func (f *Feed) HandleGameState(env Envelope) (*Envelope, error) {
	var msg GameStateMessage
	if err := env.Decode(&msg); err != nil {
		return nil, err
	}
	if !f.Push(msg.Seq, msg.State) {
		return nil, fmt.Errorf("stale snapshot %d", msg.Seq)
	}
	ack, err := NewEnvelope(TypeAck, AckMessage{Status: "ok", Seq: msg.Seq})
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

func (f *Feed) Stats() FeedStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FeedStats{Received: f.received, Stale: f.stale, LastSeq: f.seq}
}
