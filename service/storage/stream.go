package storage

import (
	"context"
	"time"

	"PPNotify/module/feed/model"

	"github.com/redis/go-redis/v9"
)

const DefaultStreamMaxLen = 100_000

// StreamSink appends every published notification to a capped Redis stream.
type StreamSink struct {
	rdb     redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
}

func NewStreamSink(rdb redis.UniversalClient, stream string, maxLen int64) *StreamSink {
	if stream == "" {
		stream = "ppnotify:notifications"
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &StreamSink{rdb: rdb, stream: stream, maxLen: maxLen, timeout: 2 * time.Second}
}

func (s *StreamSink) Name() string { return "redis-stream" }

func (s *StreamSink) Mirror(n model.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, err := s.rdb.XAdd(ctx, streamArgs(s.stream, s.maxLen, n)).Result()
	return err
}

func streamArgs(stream string, maxLen int64, n model.Notification) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"id":        n.ID,
			"author":    n.Author,
			"timestamp": n.Timestamp,
			"body":      n.Body,
			"pending":   n.Pending,
		},
	}
}
