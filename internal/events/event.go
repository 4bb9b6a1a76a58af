package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "NLP-Chain/internal/errors"
)

// Type 标识事件种类。
type Type string

const (
	TypeProofSubmitted     Type = "proof.submitted"
	TypeLedgerInitialized  Type = "ledger.initialized"
	TypeBlockAppended      Type = "block.appended"
	TypeBlockVectorUpdated Type = "block.vector_updated"
	TypeProfileCreated     Type = "profile.created"
	TypeProfileUpdated     Type = "profile.updated"
	TypeInteraction        Type = "interaction.processed"
)

// Event 是账本状态变更后发布的通知。Index 仅对区块事件有意义。
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	LedgerID   string            `json:"ledger_id,omitempty"`
	Owner      string            `json:"owner,omitempty"`
	Index      uint64            `json:"index,omitempty"`
	DataHash   string            `json:"data_hash,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 创建带随机 ID 与当前时间的事件。
func New(typ Type) Event {
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: time.Now().UTC()}
}

// Encode 将事件序列化为队列消息体。
func Encode(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode event")
	}
	return data, nil
}

// Decode 解析队列消息体。
func Decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "decode event")
	}
	return evt, nil
}

// Handler 处理一条事件。
type Handler func(ctx context.Context, evt Event) error

// Publisher 负责投递事件。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Consumer 负责消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Bus 同时具备发布与消费能力。
type Bus interface {
	Publisher
	Consumer
}

// Discard 是丢弃所有事件的 Publisher。
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }
