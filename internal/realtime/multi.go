package realtime

import (
	"context"

	"go.uber.org/zap"

	"rentdesk/internal/domain"
)

// Sink 事件下游（hub / redis bridge / mqtt mirror）
type Sink interface {
	Publish(ctx context.Context, evt domain.Event) error
}

type namedSink struct {
	name string
	sink Sink
}

// Multi 扇出到所有 sink；单个 sink 失败只记日志，不影响其他 sink 和调用方
type Multi struct {
	sinks  []namedSink
	logger *zap.Logger
}

func NewMulti(logger *zap.Logger) *Multi {
	return &Multi{logger: logger}
}

// Add nil sink 忽略
func (m *Multi) Add(name string, sink Sink) *Multi {
	if sink != nil {
		m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	}
	return m
}

func (m *Multi) Publish(ctx context.Context, evt domain.Event) {
	for _, s := range m.sinks {
		if err := s.sink.Publish(ctx, evt); err != nil {
			m.logger.Warn("Event sink publish failed",
				zap.String("sink", s.name),
				zap.String("event", string(evt.Name)),
				zap.Error(err),
			)
		}
	}
}
