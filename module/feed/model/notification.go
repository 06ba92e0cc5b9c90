package model

import (
	"net"
	"strconv"
)

// Notification is an immutable published message. Pending is the number of
// followers the author had when it was created; it is informational only.
type Notification struct {
	ID        uint32 `json:"id"`
	Author    string `json:"author"`
	Timestamp int64  `json:"timestamp"`
	Body      string `json:"body"`
	Length    int    `json:"length"`
	Pending   int    `json:"pending"`
}

func NewNotification(id uint32, author, body string, ts int64, pending int) Notification {
	return Notification{
		ID:        id,
		Author:    author,
		Timestamp: ts,
		Body:      body,
		Length:    len(body),
		Pending:   pending,
	}
}

// Endpoint identifies one connected session instance of a user.
type Endpoint struct {
	Addr string `json:"addr"`
	Port int    `json:"port"`
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Addr, strconv.Itoa(e.Port))
}

// ParseEndpoint splits a "host:port" remote address.
func ParseEndpoint(hostport string) (Endpoint, error) {
	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Addr: host, Port: port}, nil
}
