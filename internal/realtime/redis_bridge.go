package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	commonredis "rentdesk/common/redis"
	"rentdesk/internal/domain"
)

// LocalSink 接收其他实例转发来的事件（通常是 *Hub）
type LocalSink interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// bridgeEnvelope Pub/Sub 消息体；Origin 用于跳过本实例自己发出的消息
type bridgeEnvelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// RedisBridge 多实例广播：Publish 写 Pub/Sub 频道 + 审计 stream，Run 把其他实例的事件转给本地 hub
type RedisBridge struct {
	client    *redis.Client
	channel   string
	stream    string
	streamLen int64
	origin    string
	local     LocalSink
	logger    *zap.Logger
}

func NewRedisBridge(client *redis.Client, channel, stream string, streamLen int64, origin string, local LocalSink, logger *zap.Logger) *RedisBridge {
	return &RedisBridge{
		client:    client,
		channel:   channel,
		stream:    stream,
		streamLen: streamLen,
		origin:    origin,
		local:     local,
		logger:    logger,
	}
}

func (b *RedisBridge) Publish(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(bridgeEnvelope{Origin: b.origin, Event: evt})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", b.channel, err)
	}
	if b.stream != "" {
		if _, err := commonredis.PublishJSONToStream(ctx, b.client, b.stream, evt, b.streamLen); err != nil {
			return fmt.Errorf("failed to append event to %s: %w", b.stream, err)
		}
	}
	return nil
}

// Run 订阅频道直到 ctx 取消
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// 等待订阅确认，保证 Run 返回前不会丢失后续消息
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("Realtime bridge subscribed", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("Discarding malformed bridge message", zap.Error(err))
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			if err := b.local.Publish(ctx, env.Event); err != nil {
				b.logger.Warn("Failed to relay bridged event", zap.String("event", string(env.Event.Name)), zap.Error(err))
			}
		}
	}
}

// Recent 读取审计 stream 中的事件（运维排查用）
func (b *RedisBridge) Recent(ctx context.Context) ([]domain.Event, error) {
	msgs, err := commonredis.ReadRange(ctx, b.client, b.stream, "-", "+")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var evt domain.Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}
