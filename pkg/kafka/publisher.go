package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const defaultDialTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Publisher writes outbox messages to Kafka, keyed by aggregate id so one order's
// events stay on one partition.
type Publisher struct {
	writer  messageWriter
	brokers []string
	dial    dialFunc
}

var errNoBrokers = errors.New("at least one kafka broker is required")

// NewPublisher builds a synchronous writer that waits for all in-sync replicas.
func NewPublisher(ctx context.Context, cfg config.KafkaConfig, logg *logger.Logger) (*Publisher, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	dialer := &kafka.Dialer{Timeout: defaultDialTimeout, ClientID: cfg.ClientID}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID, Dial: dialer.DialFunc},
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "brokers", brokers), "kafka publisher initialized")
	}

	return &Publisher{
		writer:  writer,
		brokers: brokers,
		dial:    dialer.DialFunc,
	}, nil
}

// Publish writes msg to its topic and returns once the brokers acknowledge it.
func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	if p == nil || p.writer == nil {
		return errors.New("kafka publisher not initialized")
	}
	if strings.TrimSpace(msg.Topic) == "" {
		return errors.New("kafka topic is required")
	}
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

func toKafkaMessage(msg outbox.Message) kafka.Message {
	keys := make([]string, 0, len(msg.Attributes))
	for k := range msg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(msg.Attributes[k])})
	}
	return kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Data,
		Headers: headers,
		Time:    time.Now().UTC(),
	}
}

// Ping succeeds when any configured broker accepts a connection.
func (p *Publisher) Ping(ctx context.Context) error {
	if p == nil || p.dial == nil {
		return errors.New("kafka publisher not initialized")
	}
	var errs []error
	for _, broker := range p.brokers {
		conn, err := p.dial(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
