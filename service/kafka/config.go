package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers            []string
	Topic              string
	PartitionsPerTopic int32
	ReplicationFactor  int16
	ProducerRetries    int
	Compression        string // none/snappy/lz4/zstd
	Version            string // e.g. "2.1.0"
	EnsureTopic        bool
}

var DefaultConfig = Config{
	Brokers:            []string{"127.0.0.1:9092"},
	Topic:              "ppnotify.notifications",
	PartitionsPerTopic: 8,
	ReplicationFactor:  1,
	ProducerRetries:    5,
	Compression:        "snappy",
	Version:            "2.1.0",
	EnsureTopic:        true,
}

// BuildBaseConfig turns c into a producer config. An unparsable version falls
// back to V2_1_0_0.
func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if v, err := sarama.ParseKafkaVersion(c.Version); err == nil {
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	// the author is the message key, so one author's notifications stay on one partition
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
