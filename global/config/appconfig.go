package config

import (
	"time"

	"PPNotify/tools/errs"
)

var ErrInvalid = errs.NewCodeError(errs.ConfigInvalidError, "invalid config")

type AppConfig struct {
	NodeID    string          `yaml:"node_id" env:"NODE_ID"`
	Snowflake int64           `yaml:"snowflake_node" env:"SNOWFLAKE_NODE"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Session   SessionConfig   `yaml:"session" envPrefix:"SESSION_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Kafka     KafkaConfig     `yaml:"kafka" envPrefix:"KAFKA_"`
	Nats      NatsConfig      `yaml:"nats" envPrefix:"NATS_"`
	Nacos     NacosConfig     `yaml:"nacos" envPrefix:"NACOS_"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

type ServerConfig struct {
	Port             int           `yaml:"port" env:"PORT"`
	WSPath           string        `yaml:"ws_path" env:"WS_PATH"`
	MaxBodyBytes     int           `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	ReadLimit        int64         `yaml:"read_limit" env:"READ_LIMIT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	AllowedOrigins   []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	DebugLocalOnly   bool          `yaml:"debug_local_only" env:"DEBUG_LOCAL_ONLY"`
	MirrorBuffer     int           `yaml:"mirror_buffer" env:"MIRROR_BUFFER"`
}

type SessionConfig struct {
	AdmissionLimit int `yaml:"admission_limit" env:"ADMISSION_LIMIT"`
}

type RedisConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Addr            string        `yaml:"addr" env:"ADDR"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	DB              int           `yaml:"db" env:"DB"`
	PoolSize        int           `yaml:"pool_size" env:"POOL_SIZE"`
	PresenceTTL     time.Duration `yaml:"presence_ttl" env:"PRESENCE_TTL"`
	ClusterTag      bool          `yaml:"cluster_tag" env:"CLUSTER_TAG"`
	Channel         string        `yaml:"channel" env:"CHANNEL"`
	Stream          string        `yaml:"stream" env:"STREAM"`
	StreamMaxLen    int64         `yaml:"stream_max_len" env:"STREAM_MAX_LEN"`
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
}

type KafkaConfig struct {
	Enabled           bool     `yaml:"enabled" env:"ENABLED"`
	Brokers           []string `yaml:"brokers" env:"BROKERS"`
	Topic             string   `yaml:"topic" env:"TOPIC"`
	Partitions        int32    `yaml:"partitions" env:"PARTITIONS"`
	ReplicationFactor int16    `yaml:"replication_factor" env:"REPLICATION_FACTOR"`
	Retries           int      `yaml:"retries" env:"RETRIES"`
	Compression       string   `yaml:"compression" env:"COMPRESSION"`
	Version           string   `yaml:"version" env:"VERSION"`
	EnsureTopic       bool     `yaml:"ensure_topic" env:"ENSURE_TOPIC"`
}

// NatsConfig drives the commit capability: when Enabled every publish must
// be acknowledged by a replica on Subject.
type NatsConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Servers  []string      `yaml:"servers" env:"SERVERS"`
	User     string        `yaml:"user" env:"USER"`
	Password string        `yaml:"password" env:"PASSWORD"`
	Subject  string        `yaml:"subject" env:"SUBJECT"`
	Queue    string        `yaml:"queue" env:"QUEUE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retries  int           `yaml:"retries" env:"RETRIES"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Host      string `yaml:"host" env:"HOST"`
	Port      uint64 `yaml:"port" env:"PORT"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	DataID    string `yaml:"data_id" env:"DATA_ID"`
	Group     string `yaml:"group" env:"GROUP"`
	TimeoutMs uint64 `yaml:"timeout_ms" env:"TIMEOUT_MS"`
}

func Default() AppConfig {
	return AppConfig{
		NodeID:    "node-0",
		Snowflake: 1,
		Log:       LogConfig{Level: "info"},
		Server: ServerConfig{
			Port:             8080,
			WSPath:           "/ws",
			MaxBodyBytes:     128,
			ReadLimit:        4096,
			WriteTimeout:     5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			DebugLocalOnly:   true,
			MirrorBuffer:     1024,
		},
		Session: SessionConfig{AdmissionLimit: 2},
		Redis: RedisConfig{
			Addr:            "127.0.0.1:6379",
			PoolSize:        16,
			PresenceTTL:     90 * time.Second,
			Stream:          "ppnotify:notifications",
			StreamMaxLen:    100_000,
			RefreshInterval: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"127.0.0.1:9092"},
			Topic:             "ppnotify.notifications",
			Partitions:        8,
			ReplicationFactor: 1,
			Retries:           5,
			Compression:       "snappy",
			Version:           "2.1.0",
			EnsureTopic:       true,
		},
		Nats: NatsConfig{
			Servers: []string{"nats://127.0.0.1:4222"},
			Subject: "ppnotify.commit",
			Queue:   "ppnotify-replica",
			Timeout: time.Second,
			Retries: 2,
		},
		Nacos: NacosConfig{
			Host:      "127.0.0.1",
			Port:      8848,
			DataID:    "ppnotify.yaml",
			Group:     "DEFAULT_GROUP",
			TimeoutMs: 5000,
		},
	}
}

// Validate reports the first setting that cannot work.
func (c AppConfig) Validate() error {
	switch {
	case c.Session.AdmissionLimit < 1:
		return ErrInvalid.WrapMsg("session.admission_limit must be >= 1", "got", c.Session.AdmissionLimit)
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return ErrInvalid.WrapMsg("server.port out of range", "got", c.Server.Port)
	case c.Server.MaxBodyBytes < 1:
		return ErrInvalid.WrapMsg("server.max_body_bytes must be >= 1", "got", c.Server.MaxBodyBytes)
	case c.Snowflake < 0 || c.Snowflake > 1023:
		return ErrInvalid.WrapMsg("snowflake_node out of range", "got", c.Snowflake)
	case c.Redis.Enabled && c.Redis.Addr == "":
		return ErrInvalid.WrapMsg("redis.addr required when redis is enabled")
	case c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == ""):
		return ErrInvalid.WrapMsg("kafka.brokers and kafka.topic required when kafka is enabled")
	case c.Nats.Enabled && len(c.Nats.Servers) == 0:
		return ErrInvalid.WrapMsg("nats.servers required when nats is enabled")
	case c.Nacos.Enabled && (c.Nacos.Host == "" || c.Nacos.DataID == ""):
		return ErrInvalid.WrapMsg("nacos.host and nacos.data_id required when nacos is enabled")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return ErrInvalid.WrapMsg(err.Error())
	}
	return nil
}
