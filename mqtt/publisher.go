// Package mqtt publishes sensor states as retained JSON messages so
// home-automation consumers always see the latest value on subscribe.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/angas/omie-go/config"
	"github.com/angas/omie-go/sensor"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

type Publisher struct {
	logger *slog.Logger
	client paho.Client
	prefix string
}

func New(cnfg config.AppConfigMqtt) *Publisher {
	logger := slog.Default().With("module", "mqtt")

	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cnfg.Host, cnfg.Port))
	opts.SetClientID("omie-go")
	opts.SetUsername(cnfg.Username)
	opts.SetPassword(cnfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c paho.Client) {
		logger.Info("connected to mqtt broker")
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		logger.Warn("mqtt connection lost", slog.Any("error", err))
	})

	return &Publisher{
		logger: logger,
		client: paho.NewClient(opts),
		prefix: cnfg.GetTopicPrefix(),
	}
}

func (p *Publisher) Connect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timeout connecting to mqtt broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection error: %w", err)
	}
	return nil
}

func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
}

// PublishState publishes one sensor state, retained, at <prefix>/<key>/state.
func (p *Publisher) PublishState(state sensor.State) {
	payload, err := json.Marshal(state)
	if err != nil {
		p.logger.Error("failed to marshal sensor state", slog.Any("error", err))
		return
	}

	topic := fmt.Sprintf("%s/%s/state", p.prefix, state.Key)
	token := p.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("timeout publishing sensor state", slog.String("topic", topic))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("failed to publish sensor state", slog.String("topic", topic), slog.Any("error", err))
	}
}
