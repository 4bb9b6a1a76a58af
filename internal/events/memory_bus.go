package events

import (
	"context"
	"sync"

	xerrors "NLP-Chain/internal/errors"
)

// MemoryBus 使用 channel 模拟消息总线，适合单进程部署与测试。
// 缓冲区满时 Publish 立即失败，不阻塞已提交写操作的调用方。
type MemoryBus struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryBus 创建一个内存总线。
func NewMemoryBus(size int) *MemoryBus {
	if size <= 0 {
		size = 256
	}
	return &MemoryBus{ch: make(chan Event, size), done: make(chan struct{})}
}

var errBusClosed = xerrors.New(xerrors.CodeQueueFailure, "bus closed", xerrors.WithRetryable(false))

// Publish 将事件放入缓冲区。
func (b *MemoryBus) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-b.done:
		return errBusClosed
	default:
	}
	select {
	case <-b.done:
		return errBusClosed
	case b.ch <- evt:
		return nil
	default:
		return xerrors.New(xerrors.CodeQueueFailure, "bus buffer full",
			xerrors.WithMetadata("event_type", string(evt.Type)))
	}
}

// Consume 启动 workerCount 个协程消费事件，直到上下文取消或总线关闭。
// 关闭后缓冲区中剩余的事件仍会被处理。
func (b *MemoryBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt := <-b.ch:
					_ = handler(ctx, evt)
				case <-b.done:
					b.drain(ctx, handler)
					return
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (b *MemoryBus) drain(ctx context.Context, handler Handler) {
	for ctx.Err() == nil {
		select {
		case evt := <-b.ch:
			_ = handler(ctx, evt)
		default:
			return
		}
	}
}

// Close 关闭总线。可重复调用。
func (b *MemoryBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

var _ Bus = (*MemoryBus)(nil)
