package main

import (
	"context"
	"time"

	"PPNotify/logger"
	"PPNotify/module/feed/model"
	"PPNotify/module/feed/notify"
	"PPNotify/service/natsx"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// replicaCmd runs a standby that keeps its own copy of the notification log
// and acknowledges every commit request from the primary. It must be started
// before the primary: a gap in ids is refused. A redelivered id whose ack was
// lost is accepted again.
func replicaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replica",
		Short: "Acknowledge commit requests and keep a copy of the notification log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			nc, err := natsx.Connect(natsConfig(cfg))
			if err != nil {
				return err
			}
			defer nc.Close()

			store := notify.NewStore()
			idem := natsx.NewMemIdem(10 * time.Minute)
			defer idem.Close()

			r := natsx.NewReplica(func(_ context.Context, n model.Notification) error {
				return store.Replicate(n)
			}, natsx.NatsxIdemMiddleware(idem, 10*time.Minute))
			sub, err := r.Serve(nc, cfg.Nats.Subject, cfg.Nats.Queue)
			if err != nil {
				return err
			}
			logger.Info("replica serving", zap.String("subject", sub.Subject), zap.String("queue", cfg.Nats.Queue))

			<-cmd.Context().Done()
			if err := sub.Drain(); err != nil {
				logger.Warn("replica drain failed", zap.Error(err))
			}
			logger.Info("replica stopped", zap.Int("notifications", store.Len()))
			return nil
		},
	}
}
