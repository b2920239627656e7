package event

import (
	"sync"

	"github.com/ZilDuck/nft-escrow-marketplace/internal/chain"
	"go.uber.org/zap"
)

const listenerBuffer = 256

// Manager fans committed chain logs out to typed listeners. Each listener receives its
// events in commit order on its own goroutine.
type Manager interface {
	AddEventListener(eventType Type, callback func(msg interface{}))
	AddListener(eventTypes []Type, callback func(msg interface{}))
	EmitEvent(eventType Type, msg interface{})
	Publish(logs []chain.Log)
	Close()
}

type manager struct {
	mu        sync.RWMutex
	listeners []*listener
	closed    bool
	wg        sync.WaitGroup
}

type listener struct {
	eventTypes map[Type]bool
	channel    chan interface{}
}

func NewManager() Manager {
	return &manager{listeners: make([]*listener, 0)}
}

func (m *manager) AddEventListener(eventType Type, callback func(msg interface{})) {
	m.AddListener([]Type{eventType}, callback)
}

// AddListener registers one callback for several event types. The callback receives all of
// them on a single goroutine, in the order they were emitted.
func (m *manager) AddListener(eventTypes []Type, callback func(msg interface{})) {
	types := make(map[Type]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		types[eventType] = true
		zap.L().With(zap.String("type", string(eventType))).Debug("EventManager: AddListener")
	}

	l := &listener{
		eventTypes: types,
		channel:    make(chan interface{}, listenerBuffer),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		zap.L().With(zap.Int("types", len(eventTypes))).Warn("EventManager: Listener added after close")
		return
	}
	m.listeners = append(m.listeners, l)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for msg := range l.channel {
			callback(msg)
		}
	}()
}

func (m *manager) EmitEvent(eventType Type, msg interface{}) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}
	if len(m.listeners) == 0 {
		zap.L().Debug("No event listeners available")
	}

	for _, l := range m.listeners {
		if l.eventTypes[eventType] {
			zap.L().With(zap.String("type", string(eventType))).Debug("EventManager: Emitting event")
			l.channel <- msg
		}
	}
}

// Publish emits every log of a committed call as an event named after the log.
func (m *manager) Publish(logs []chain.Log) {
	for _, log := range logs {
		m.EmitEvent(Type(log.Name), log)
	}
}

// Close stops accepting events and waits until every listener has drained its queue.
func (m *manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, l := range m.listeners {
		close(l.channel)
	}
	m.mu.Unlock()

	m.wg.Wait()
}
