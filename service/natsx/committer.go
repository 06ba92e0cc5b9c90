package natsx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"PPNotify/module/feed/model"

	"github.com/cespare/xxhash/v2"
	"github.com/nats-io/nats.go"
)

const (
	DefaultCommitSubject = "ppnotify.commit"

	verdictAck = "ack"
)

// Requester is the part of *nats.Conn the committer needs.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// Committer asks a replica to accept every notification before the primary
// makes it visible. A reply other than "ack", or no reply at all, vetoes the
// publish.
type Committer struct {
	req     Requester
	subject string
	timeout time.Duration
	retries int
	backoff time.Duration
}

type CommitterConf struct {
	Subject string
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

func NewCommitter(req Requester, conf CommitterConf) *Committer {
	if conf.Subject == "" {
		conf.Subject = DefaultCommitSubject
	}
	if conf.Timeout <= 0 {
		conf.Timeout = time.Second
	}
	if conf.Backoff <= 0 {
		conf.Backoff = 50 * time.Millisecond
	}
	return &Committer{req: req, subject: conf.Subject, timeout: conf.Timeout, retries: conf.Retries, backoff: conf.Backoff}
}

func (c *Committer) CommitPublish(ctx context.Context, n model.Notification) error {
	msg, err := commitMsg(c.subject, n)
	if err != nil {
		return err
	}
	for i := 0; ; i++ {
		err = c.once(ctx, msg)
		if err == nil || i >= c.retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Committer) once(ctx context.Context, msg *nats.Msg) error {
	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	reply, err := c.req.RequestMsgWithContext(rctx, msg)
	if err != nil {
		return fmt.Errorf("commit request: %w", err)
	}
	return verdict(reply.Data)
}

func commitMsg(subject string, n model.Notification) (*nats.Msg, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	msg := nats.NewMsg(subject)
	msg.Data = b
	msg.Header.Set("Nats-Msg-Id", commitKey(n.ID, b))
	return msg, nil
}

// commitKey ties the dedup key to the content, so a reused id with a new body
// is applied rather than acked from the idempotency cache.
func commitKey(id uint32, body []byte) string {
	return strconv.FormatUint(uint64(id), 10) + "-" + strconv.FormatUint(xxhash.Sum64(body), 16)
}

func verdict(data []byte) error {
	v := bytes.TrimSpace(data)
	if string(v) == verdictAck {
		return nil
	}
	if len(v) == 0 {
		return fmt.Errorf("commit refused: empty reply")
	}
	return fmt.Errorf("commit refused: %s", v)
}
