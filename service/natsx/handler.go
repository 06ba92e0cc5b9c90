package natsx

import "context"

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、指标、重试等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain wraps h so that mws[0] runs first.
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func fromNats(subject string, data []byte, hdr map[string][]string) NatsxMessage {
	m := NatsxMessage{Subject: subject, Data: data, Header: make(map[string]string, len(hdr))}
	for k, v := range hdr {
		if len(v) > 0 {
			m.Header[k] = v[0]
		}
	}
	return m
}
