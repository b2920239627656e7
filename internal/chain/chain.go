// Package chain is the execution host of the marketplace: it serializes top-level calls,
// journals every state write so a failed call reverts as a unit, and delivers the logs of
// committed calls to the registered sinks.
//
// A call frame travels in the context. A call made with a context that already carries a
// frame of the same chain (a re-entrant call from a transfer callback) runs inside the
// outer call under its own nested snapshot instead of taking the lock again.
package chain

import (
	"context"
	"sync"

	uuid "github.com/nu7hatch/gouuid"
	"go.uber.org/zap"
)

type Log struct {
	TxID     string      `json:"txId"`
	BlockNum uint64      `json:"blockNum"`
	Index    int         `json:"index"`
	Name     string      `json:"name"`
	Data     interface{} `json:"data"`
}

type Sink interface {
	Publish(logs []Log)
}

type Chain struct {
	mu sync.Mutex

	journal  []func()
	logs     []Log
	blockNum uint64

	publishMu sync.Mutex
	sinksMu   sync.RWMutex
	sinks     []Sink
}

type frameKey struct{}

type frame struct {
	chain *Chain
	txID  string
	depth int
}

type snapshot struct {
	journal int
	logs    int
}

func New(sinks ...Sink) *Chain {
	return &Chain{sinks: sinks}
}

func (c *Chain) AddSink(sink Sink) {
	c.sinksMu.Lock()
	defer c.sinksMu.Unlock()

	c.sinks = append(c.sinks, sink)
}

// Execute runs fn as one all-or-nothing unit. Every write journaled by fn is undone when
// fn returns an error, and logs reach the sinks only once the top-level call commits.
func (c *Chain) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if f := c.frameFrom(ctx); f != nil {
		inner := &frame{chain: c, txID: f.txID, depth: f.depth + 1}
		return c.run(context.WithValue(ctx, frameKey{}, inner), fn)
	}

	logs, err := c.executeTopLevel(ctx, fn)
	if err != nil {
		return err
	}

	defer c.publishMu.Unlock()
	if len(logs) != 0 {
		c.publish(logs)
	}

	return nil
}

func (c *Chain) executeTopLevel(ctx context.Context, fn func(ctx context.Context) error) (logs []Log, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := &frame{chain: c, txID: newTxID()}

	defer func() {
		if r := recover(); r != nil {
			c.revertToSnapshot(snapshot{})
			c.reset()
			panic(r)
		}
	}()

	if err = c.run(context.WithValue(ctx, frameKey{}, f), fn); err != nil {
		c.reset()
		return nil, err
	}

	logs = c.logs
	c.blockNum++
	c.reset()

	// taken before mu is released so commits reach the sinks in block order
	c.publishMu.Lock()

	return logs, nil
}

// View runs a read-only fn against a consistent state. Inside a call it runs directly.
func (c *Chain) View(ctx context.Context, fn func()) {
	if c.frameFrom(ctx) != nil {
		fn()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Journal records how to undo a write made by the current call.
func (c *Chain) Journal(undo func()) {
	c.journal = append(c.journal, undo)
}

// Emit appends a log to the current call. The log is dropped if the call reverts.
func (c *Chain) Emit(ctx context.Context, name string, data interface{}) {
	c.logs = append(c.logs, Log{
		TxID:     TxID(ctx),
		BlockNum: c.blockNum + 1,
		Index:    len(c.logs),
		Name:     name,
		Data:     data,
	})
}

// BlockNum is the number of committed top-level calls.
func (c *Chain) BlockNum(ctx context.Context) uint64 {
	var blockNum uint64
	c.View(ctx, func() {
		blockNum = c.blockNum
	})

	return blockNum
}

// TxID returns the id of the top-level call ctx belongs to, or "" outside a call.
func TxID(ctx context.Context) string {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok {
		return f.txID
	}

	return ""
}

// Depth is 0 for a top-level call and grows by one per re-entrant call.
func Depth(ctx context.Context) int {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok {
		return f.depth
	}

	return -1
}

func (c *Chain) run(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := c.snapshot()
	if err := fn(ctx); err != nil {
		c.revertToSnapshot(snap)
		return err
	}

	return nil
}

func (c *Chain) frameFrom(ctx context.Context) *frame {
	if f, ok := ctx.Value(frameKey{}).(*frame); ok && f.chain == c {
		return f
	}

	return nil
}

func (c *Chain) snapshot() snapshot {
	return snapshot{journal: len(c.journal), logs: len(c.logs)}
}

func (c *Chain) revertToSnapshot(snap snapshot) {
	for i := len(c.journal) - 1; i >= snap.journal; i-- {
		c.journal[i]()
	}
	c.journal = c.journal[:snap.journal]
	c.logs = c.logs[:snap.logs]
}

func (c *Chain) reset() {
	c.journal = nil
	c.logs = nil
}

func (c *Chain) publish(logs []Log) {
	c.sinksMu.RLock()
	sinks := append([]Sink(nil), c.sinks...)
	c.sinksMu.RUnlock()

	for _, sink := range sinks {
		sink.Publish(logs)
	}
}

func newTxID() string {
	u, err := uuid.NewV4()
	if err != nil {
		zap.L().With(zap.Error(err)).Error("Chain: Failed to create tx id")
		return ""
	}

	return u.String()
}
