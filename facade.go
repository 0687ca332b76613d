package xevent

import (
	"context"
	"fmt"
	"sync"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// New builds a Bus with init applied to a fresh builder and returns it with a
// shutdown func that closes it.
func New(init func(*BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	b, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	return b, func() error { return b.Close(context.Background()) }, nil
}

// Default returns the process-wide singleton Bus.
func Default() *Bus {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus != nil {
		return defaultBus
	}

	b := NewBusBuilder()
	bus, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("xevent: failed to initialize default bus: %v", err))
	}
	defaultBus = bus
	return defaultBus
}

// SetDefault replaces the process-wide default Bus.
func SetDefault(b *Bus) {
	if b == nil {
		panic("xevent: SetDefault called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Post is the Facade using the default bus.
func Post(ctx context.Context, event any) (*Completion, error) {
	return Default().Post(ctx, event)
}

// Subscribe is the Facade using the default bus.
func Subscribe(subscriber any) error {
	return Default().Subscribe(subscriber)
}

// SubscribeWeakly is the Facade using the default bus.
func SubscribeWeakly(subscriber any) error {
	return Default().SubscribeWeakly(subscriber)
}

// Unsubscribe is the Facade using the default bus.
func Unsubscribe(subscriber any) bool {
	return Default().Unsubscribe(subscriber)
}
