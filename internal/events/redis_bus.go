package events

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "NLP-Chain/internal/errors"
	"NLP-Chain/pkg/logger"
)

// RedisBusConfig 描述 Redis 总线的连接参数。
type RedisBusConfig struct {
	Address      string
	Password     string
	DB           int
	Queue        string
	BlockWait    time.Duration
	MaxRedeliver int
}

// RedisBus 使用 Redis list 实现事件总线，LPUSH 入队，BRPOP 出队。
type RedisBus struct {
	client       redis.UniversalClient
	queue        string
	wait         time.Duration
	maxRedeliver int
}

// NewRedisBus 连接 Redis 并创建总线。
func NewRedisBus(ctx context.Context, cfg RedisBusConfig) (*RedisBus, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "connect redis")
	}
	return NewRedisBusWithClient(client, cfg), nil
}

// NewRedisBusWithClient 复用已有的 Redis 客户端。
func NewRedisBusWithClient(client redis.UniversalClient, cfg RedisBusConfig) *RedisBus {
	queue := cfg.Queue
	if queue == "" {
		queue = "nlpchain:events"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	redeliver := cfg.MaxRedeliver
	if redeliver <= 0 {
		redeliver = 3
	}
	return &RedisBus{client: client, queue: queue, wait: wait, maxRedeliver: redeliver}
}

// Publish 将事件投递到 Redis。
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := Encode(evt)
	if err != nil {
		return err
	}
	if err := b.client.LPush(ctx, b.queue, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis publish")
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取事件。处理失败的事件会被重新投递，
// 直到达到 MaxRedeliver 次。
func (b *RedisBus) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			for {
				if ctx.Err() != nil {
					errCh <- ctx.Err()
					return
				}
				values, err := b.client.BRPop(ctx, b.wait, b.queue).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
						errCh <- err
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "redis consume")
					return
				}
				if len(values) != 2 {
					continue
				}
				evt, err := Decode([]byte(values[1]))
				if err != nil {
					logger.L().Error("丢弃无法解析的事件", slog.Any("error", err))
					continue
				}
				if handlerErr := handler(ctx, evt); handlerErr != nil {
					b.redeliver(ctx, evt, handlerErr)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (b *RedisBus) redeliver(ctx context.Context, evt Event, cause error) {
	attempts, _ := strconv.Atoi(evt.Attributes["redelivered"])
	if attempts >= b.maxRedeliver {
		logger.L().Error("事件重投次数耗尽",
			slog.Any("error", cause),
			slog.String("event_id", evt.ID),
			slog.String("type", string(evt.Type)))
		return
	}
	if evt.Attributes == nil {
		evt.Attributes = make(map[string]string, 1)
	}
	evt.Attributes["redelivered"] = strconv.Itoa(attempts + 1)
	payload, err := Encode(evt)
	if err != nil {
		return
	}
	if err := b.client.RPush(ctx, b.queue, payload).Err(); err != nil {
		logger.L().Error("事件重投失败", slog.Any("error", err), slog.String("event_id", evt.ID))
	}
}

// Close 关闭 Redis 连接。
func (b *RedisBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
