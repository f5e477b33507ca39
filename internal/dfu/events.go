package dfu

import "sync"

// broadcaster fans values out to subscriber channels. Delivery is best
// effort: a subscriber whose buffer is full misses the value.
type broadcaster[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func (b *broadcaster[T]) subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan T)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// publish reports how many subscribers missed v.
func (b *broadcaster[T]) publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	missed := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			missed++
		}
	}
	return missed
}
