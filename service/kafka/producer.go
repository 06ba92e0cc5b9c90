package kafka

import (
	"encoding/json"
	"strconv"

	"PPNotify/logger"
	"PPNotify/module/feed/model"
	"PPNotify/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// LogSink writes every published notification to a Kafka topic, keyed by
// author.
type LogSink struct {
	producer sarama.SyncProducer
	topic    string
	closers  []func() error
}

func NewLogSink(p sarama.SyncProducer, topic string) *LogSink {
	return &LogSink{producer: p, topic: topic}
}

// Dial connects to c.Brokers, optionally creates the topic and returns a
// ready sink that owns the client.
func Dial(c Config) (*LogSink, error) {
	cfg := BuildBaseConfig(c)
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopic(admin, c.Topic, c.PartitionsPerTopic, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka producer")
	}
	s := NewLogSink(p, c.Topic)
	s.closers = append(s.closers, client.Close)
	return s, nil
}

func (s *LogSink) Name() string { return "kafka" }

func (s *LogSink) Mirror(n model.Notification) error {
	msg, err := encode(s.topic, n)
	if err != nil {
		return err
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", s.topic, "id", n.ID)
	}
	logger.Debug("notification logged", zap.Uint32("id", n.ID), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return nil
}

func (s *LogSink) Close() error {
	err := s.producer.Close()
	for _, c := range s.closers {
		if cerr := c(); err == nil {
			err = cerr
		}
	}
	return err
}

func encode(topic string, n model.Notification) (*sarama.ProducerMessage, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(n.Author),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("notification-id"), Value: []byte(strconv.FormatUint(uint64(n.ID), 10))},
		},
	}, nil
}
