package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"MicrowireQC/internal/config"
	"MicrowireQC/pkg/logger"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// HandleFunc processes one telemetry payload.
type HandleFunc func(ctx context.Context, payload []byte) error

// Subscriber feeds device reports from the broker into a HandleFunc.
type Subscriber struct {
	cfg    config.MQTTConfig
	handle HandleFunc
	logger *slog.Logger
	client paho.Client
}

func NewSubscriber(cfg config.MQTTConfig, handle HandleFunc, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Subscriber{cfg: cfg, handle: handle, logger: log.With("component", "mqtt")}
}

// Start connects and subscribes. The subscription is renewed on every reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	if s.handle == nil {
		return fmt.Errorf("mqtt subscriber without handler")
	}

	paho.ERROR = logger.New(s.logger, "paho", slog.LevelError)
	paho.CRITICAL = logger.New(s.logger, "paho", slog.LevelError)
	paho.WARN = logger.New(s.logger, "paho", slog.LevelWarn)

	s.client = paho.NewClient(s.options(ctx))
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Stop disconnects, letting in-flight work finish for a short moment.
func (s *Subscriber) Stop() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(disconnectQuiesce)
	s.logger.Info("mqtt disconnected")
}

func (s *Subscriber) options(ctx context.Context) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(clientID(s.cfg.ClientID))
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(s.cfg.Topic, qos(s.cfg.QoS), s.messageHandler(ctx))
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("subscribe failed", "topic", s.cfg.Topic, "error", err)
			return
		}
		s.logger.Info("subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
	})
	return opts
}

func (s *Subscriber) messageHandler(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		s.process(ctx, msg)
	}
}

func (s *Subscriber) process(ctx context.Context, msg paho.Message) {
	if err := s.handle(ctx, msg.Payload()); err != nil {
		s.logger.Error("report rejected",
			"topic", msg.Topic(),
			"message_id", msg.MessageID(),
			"duplicate", msg.Duplicate(),
			"error", err)
	}
}

// clientID keeps the configured prefix and adds a random suffix so replicas do not evict each other.
func clientID(prefix string) string {
	if prefix == "" {
		prefix = "microwire-qc"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

func qos(v int) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 2:
		return 2
	default:
		return 1
	}
}
