package powermeter

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/b2500meter/internal/config"
	"github.com/berfenger/b2500meter/internal/core/domain"
	"github.com/berfenger/b2500meter/internal/mqtt"
	"github.com/berfenger/b2500meter/internal/util"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	mqttConnectTimeout   = 10 * time.Second
	mqttSubscribeTimeout = 5 * time.Second
)

// MQTTSource serves the last value published on a topic.
type MQTTSource struct {
	name   string
	client *mqtt.MQTTClient
	logger *zap.Logger

	mu       sync.Mutex
	value    *float64
	received chan struct{}
	once     sync.Once
}

func NewMQTTSource(name string, cfg config.MQTTSourceConfig, logger *zap.Logger) *MQTTSource {
	src := newMQTTSource(name, logger)
	src.client = mqtt.CreateMQTTClient(cfg, mqtt.OptsFromConfig(cfg), src.onConnect, src.onConnectionLost)
	return src
}

func newMQTTSource(name string, logger *zap.Logger) *MQTTSource {
	return &MQTTSource{
		name:     name,
		logger:   logger.With(zap.String("component", "mqtt_source"), zap.String("source", name)),
		received: make(chan struct{}),
	}
}

// Start connects in the background. The client keeps retrying until Close.
func (s *MQTTSource) Start() {
	s.client.Connect(func(err error) {
		if err != nil {
			s.logger.Warn("mqtt_source@connect still trying", zap.Error(err))
		}
	}, mqttConnectTimeout)
}

func (s *MQTTSource) onConnect(_ pahomqtt.Client) {
	s.logger.Info("mqtt_source@connect connected", zap.String("topic", s.client.Topic()))
	// subscriptions are lost on reconnect
	s.client.Subscribe(s.client.Topic(), 0, func(_ pahomqtt.Client, m pahomqtt.Message) {
		s.handlePayload(m.Payload(), s.client.JSONPath())
	}, func(err error) {
		if err != nil {
			s.logger.Error("mqtt_source@subscribe failed", zap.Error(err))
		}
	}, mqttSubscribeTimeout)
}

func (s *MQTTSource) onConnectionLost(_ pahomqtt.Client, err error) {
	s.logger.Warn("mqtt_source@connect connection lost", zap.Error(err))
}

func (s *MQTTSource) handlePayload(payload []byte, jsonPath string) {
	value, err := util.ParseFloatPayload(payload, jsonPath)
	if err != nil {
		s.logger.Warn("mqtt_source@message unparseable payload", zap.ByteString("payload", payload), zap.Error(err))
		return
	}
	s.mu.Lock()
	s.value = &value
	s.mu.Unlock()
	s.once.Do(func() { close(s.received) })
}

func (s *MQTTSource) Fetch(_ context.Context) (domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value == nil {
		return nil, domain.NewSourceError(s.name, domain.ErrNoValue)
	}
	return domain.Reading{*s.value}, nil
}

func (s *MQTTSource) WaitForMessage(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.received:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return domain.NewSourceError(s.name, domain.ErrTimeout)
	}
}

func (s *MQTTSource) Close() error {
	if s.client != nil {
		s.client.Disconnect(250 * time.Millisecond)
	}
	return nil
}
