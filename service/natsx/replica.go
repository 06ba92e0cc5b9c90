package natsx

import (
	"context"
	"encoding/json"

	"PPNotify/logger"
	"PPNotify/module/feed/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ApplyFunc stores a committed notification on the replica.
type ApplyFunc func(ctx context.Context, n model.Notification) error

// Replica answers commit requests: it applies each notification and replies
// "ack", or replies with the failure text.
type Replica struct {
	handler NatsxHandler
	apply   ApplyFunc
}

func NewReplica(apply ApplyFunc, mws ...NatsxMiddleware) *Replica {
	r := &Replica{apply: apply}
	r.handler = NatsxChain(r.handle, mws...)
	return r
}

func (r *Replica) handle(ctx context.Context, msg NatsxMessage) error {
	var n model.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		return err
	}
	return r.apply(ctx, n)
}

// Answer runs msg through the middleware chain and returns the reply body.
func (r *Replica) Answer(ctx context.Context, msg NatsxMessage) []byte {
	if err := r.handler(ctx, msg); err != nil {
		logger.Warn("replica refused commit", zap.String("subject", msg.Subject), zap.Error(err))
		return []byte(err.Error())
	}
	return []byte(verdictAck)
}

// Serve subscribes on subject (in queue group when non-empty) and answers
// until the subscription is drained.
func (r *Replica) Serve(nc *nats.Conn, subject, queue string) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultCommitSubject
	}
	cb := func(m *nats.Msg) {
		reply := r.Answer(context.Background(), fromNats(m.Subject, m.Data, m.Header))
		if err := m.Respond(reply); err != nil {
			logger.Warn("replica respond failed", zap.Error(err))
		}
	}
	if queue != "" {
		return nc.QueueSubscribe(subject, queue, cb)
	}
	return nc.Subscribe(subject, cb)
}
