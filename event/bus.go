package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hatlonely/secidx/build"
)

type BusOptions struct {
	// 每个订阅者的缓冲区大小
	Buffer int `cfg:"buffer" def:"64" validate:"min=0"`
}

// Bus 进程内的快照广播，订阅者处理不过来时丢弃快照而不阻塞构建
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan *build.IndexBuildStatus
	nextID      uint64
	buffer      int
	dropped     atomic.Int64
	closed      bool
}

func NewBusWithOptions(options *BusOptions) *Bus {
	buffer := 64
	if options != nil && options.Buffer > 0 {
		buffer = options.Buffer
	}
	return &Bus{subscribers: map[uint64]chan *build.IndexBuildStatus{}, buffer: buffer}
}

// Subscribe 返回接收快照的通道和取消订阅的函数
func (b *Bus) Subscribe() (<-chan *build.IndexBuildStatus, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *build.IndexBuildStatus, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(c)
			}
		})
	}
}

func (b *Bus) Publish(ctx context.Context, status *build.IndexBuildStatus) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- status:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Dropped 因订阅者缓冲区满而丢弃的快照数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
	return nil
}
