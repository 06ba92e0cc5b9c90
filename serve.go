package main

import (
	"context"
	"fmt"

	"PPNotify/global/config"
	"PPNotify/logger"
	core "PPNotify/module/feed"
	"PPNotify/module/feed/fanout"
	"PPNotify/module/feed/session"
	feedsvc "PPNotify/service/feed"
	"PPNotify/service/kafka"
	"PPNotify/service/metrics"
	"PPNotify/service/natsx"
	"PPNotify/service/storage"
	rdb "PPNotify/service/storage/redis"
	"PPNotify/tools/ids"
	"PPNotify/tools/safe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var (
		port           int
		admissionLimit int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept websocket sessions and fan notifications out to followers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if cmd.Flags().Changed("admission-limit") {
				cfg.Session.AdmissionLimit = admissionLimit
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port")
	cmd.Flags().IntVar(&admissionLimit, "admission-limit", 0, "concurrent sessions allowed per user")
	return cmd
}

func serve(ctx context.Context, cfg config.AppConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Nacos.Enabled {
		w, err := watchNacos(cfg)
		if err != nil {
			return err
		}
		defer w.Stop()
		cfg = w.Current()
	}
	ids.SetNodeID(cfg.Snowflake)

	m := metrics.New()
	conf := core.Conf{
		AdmissionLimit: cfg.Session.AdmissionLimit,
		MirrorBuffer:   cfg.Server.MirrorBuffer,
		Observers:      []session.Observer{m},
		Recorder:       m,
	}

	var online *storage.OnlineStore
	if cfg.Redis.Enabled {
		if err := rdb.InitRedis(ctx, rdb.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		defer func() { _ = rdb.CloseRedis() }()

		online = storage.NewOnlineStore(rdb.GetRedis(), storage.OnlineConfig{
			NodeID:        cfg.NodeID,
			TTL:           cfg.Redis.PresenceTTL,
			ChannelName:   cfg.Redis.Channel,
			UseClusterTag: cfg.Redis.ClusterTag,
		})
		conf.Observers = append(conf.Observers, online)
		conf.Sinks = append(conf.Sinks, storage.NewStreamSink(rdb.GetRedis(), cfg.Redis.Stream, cfg.Redis.StreamMaxLen))
	}

	if cfg.Kafka.Enabled {
		sink, err := kafka.Dial(kafka.Config{
			Brokers:            cfg.Kafka.Brokers,
			Topic:              cfg.Kafka.Topic,
			PartitionsPerTopic: cfg.Kafka.Partitions,
			ReplicationFactor:  cfg.Kafka.ReplicationFactor,
			ProducerRetries:    cfg.Kafka.Retries,
			Compression:        cfg.Kafka.Compression,
			Version:            cfg.Kafka.Version,
			EnsureTopic:        cfg.Kafka.EnsureTopic,
		})
		if err != nil {
			return err
		}
		defer func() { _ = sink.Close() }()
		conf.Sinks = append(conf.Sinks, sink)
	}

	if cfg.Nats.Enabled {
		nc, err := natsx.Connect(natsConfig(cfg))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer nc.Close()
		conf.Committer = natsx.NewCommitter(nc, natsx.CommitterConf{
			Subject: cfg.Nats.Subject,
			Timeout: cfg.Nats.Timeout,
			Retries: cfg.Nats.Retries,
		})
	}

	engine := core.NewServer(conf)
	defer engine.Close()

	if online != nil {
		safe.Go("presence-refresh", func() {
			online.RunRefresher(ctx, cfg.Redis.RefreshInterval, engine.Sessions)
		})
	}

	srv := feedsvc.NewServer(feedsvc.Conf{
		Addr:             fmt.Sprintf(":%d", cfg.Server.Port),
		WSPath:           cfg.Server.WSPath,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		ReadLimit:        cfg.Server.ReadLimit,
		WriteTimeout:     cfg.Server.WriteTimeout,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		DebugLocalOnly:   cfg.Server.DebugLocalOnly,
	}, engine, m, m.Handler())

	logger.Info("ppnotify serving",
		zap.String("node", cfg.NodeID),
		zap.Int("port", cfg.Server.Port),
		zap.Int("admissionLimit", engine.AdmissionLimit()),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("commit", cfg.Nats.Enabled))
	return srv.Run(ctx)
}

// watchNacos merges the remote config and keeps the log level in sync with
// it. Other keys only take effect on restart.
func watchNacos(cfg config.AppConfig) (*config.Watcher, error) {
	client, err := config.NewNacosClient(cfg.Nacos)
	if err != nil {
		return nil, err
	}
	w := config.NewWatcher(client, cfg, func(old, cur config.AppConfig) {
		if old.Log.Level == cur.Log.Level {
			return
		}
		if err := logger.SetLevel(cur.Log.Level); err != nil {
			logger.Warn("nacos log level rejected", zap.Error(err))
			return
		}
		logger.Info("log level changed", zap.String("from", old.Log.Level), zap.String("to", cur.Log.Level))
	})
	if err := w.Start(); err != nil {
		return nil, err
	}
	return w, nil
}

func natsConfig(cfg config.AppConfig) natsx.NatsxConfig {
	return natsx.NatsxConfig{
		Servers:  cfg.Nats.Servers,
		Name:     "ppnotify-" + cfg.NodeID,
		User:     cfg.Nats.User,
		Password: cfg.Nats.Password,
		Timeout:  cfg.Nats.Timeout,
	}
}

var _ fanout.Sink = (*kafka.LogSink)(nil)
var _ fanout.Sink = (*storage.StreamSink)(nil)
