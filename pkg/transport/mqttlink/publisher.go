package mqttlink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"launchctl/pkg/session"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

type statusMsg struct {
	Status    session.Status `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

// StatusPublisher mirrors session status changes to a retained topic so
// other tools can follow the connection without polling.
type StatusPublisher struct {
	client mqtt.Client
	topic  string
	logger log.FieldLogger

	mu      sync.Mutex // serializes Observe
	updates chan session.Status
}

func NewStatusPublisher(client mqtt.Client, topicRoot string, logger log.FieldLogger) *StatusPublisher {
	return &StatusPublisher{
		client:  client,
		topic:   topicRoot + statusTopic,
		logger:  logger,
		updates: make(chan session.Status, 8),
	}
}

// Observe is a session.Observer. It never blocks; when the publisher falls
// behind the oldest pending update is dropped so the latest status always
// reaches the retained topic.
func (p *StatusPublisher) Observe(s session.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		select {
		case p.updates <- s:
			return
		default:
		}

		select {
		case old := <-p.updates:
			p.logger.Debugf("Status update %s superseded", old)
		default:
		}
	}
}

func (p *StatusPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.updates:
			if err := p.publish(s); err != nil {
				p.logger.Errorf("Failed to publish status: %v", err)
			}
		}
	}
}

func (p *StatusPublisher) publish(s session.Status) error {
	payload, err := json.Marshal(statusMsg{Status: s, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, 1, true, payload)
	token.Wait()
	return token.Error()
}
