package push

import "sync"

// Channel holds the handlers bound to one subscribed channel.
type Channel struct {
	name string

	mu     sync.RWMutex
	global []func(event string, data []byte)
}

func newChannel(name string) *Channel {
	return &Channel{name: name}
}

func (ch *Channel) Name() string { return ch.name }

// BindGlobal receives every non-protocol event on the channel.
func (ch *Channel) BindGlobal(h func(event string, data []byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.global = append(ch.global, h)
}

func (ch *Channel) UnbindAll() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.global = nil
}

func (ch *Channel) dispatch(event string, data []byte) {
	ch.mu.RLock()
	gs := append([]func(event string, data []byte){}, ch.global...)
	ch.mu.RUnlock()

	for _, g := range gs {
		g(event, data)
	}
}
