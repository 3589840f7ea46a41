package realtime

import (
	"context"
	"encoding/json"
	"strings"

	"rentdesk/internal/domain"
)

// TopicPublisher 由 common/mqtt.Client 实现
type TopicPublisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// MQTTMirror 把事件镜像到 {root}/{event}，供外部系统订阅
type MQTTMirror struct {
	client TopicPublisher
	root   string
}

func NewMQTTMirror(client TopicPublisher, root string) *MQTTMirror {
	return &MQTTMirror{client: client, root: strings.TrimSuffix(root, "/")}
}

func (m *MQTTMirror) Topic(name domain.EventName) string {
	return m.root + "/" + string(name)
}

func (m *MQTTMirror) Publish(_ context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return m.client.Publish(m.Topic(evt.Name), false, payload)
}
