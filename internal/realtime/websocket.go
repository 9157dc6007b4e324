// Package realtime keeps the local store in step with changes other
// devices push to the hosted store, via a websocket change feed.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/supplied-app/supplied/internal/logging"
)

// EventType is the kind of row change a message announces.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Message is one row change from the hosted store's change feed. New
// carries the row after the change, Old the row before a delete.
type Message struct {
	Table string          `json:"table"`
	Event EventType       `json:"event"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Subscriber delivers the change feed for one user. The returned
// channel closes when the context is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan Message, error)
}

// wsSubscriber subscribes over a websocket and reconnects with backoff
// until its context ends.
type wsSubscriber struct {
	endpoint string
	apiKey   string
	log      *logrus.Entry
}

// NewSubscriber builds a websocket subscriber against the hosted
// store's realtime endpoint.
func NewSubscriber(endpoint, apiKey string, log *logrus.Logger) Subscriber {
	return &wsSubscriber{
		endpoint: endpoint,
		apiKey:   apiKey,
		log:      logging.Component(log, "realtime"),
	}
}

func (s *wsSubscriber) Subscribe(ctx context.Context, userID string) (<-chan Message, error) {
	target, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	q := target.Query()
	q.Set("user_id", userID)
	target.RawQuery = q.Encode()

	out := make(chan Message, 64)
	go s.pump(ctx, target.String(), out)
	return out, nil
}

func (s *wsSubscriber) pump(ctx context.Context, target string, out chan<- Message) {
	defer close(out)

	backoff := time.Second
	for ctx.Err() == nil {
		header := http.Header{}
		header.Set("apikey", s.apiKey)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, header)
		if err != nil {
			s.log.WithError(err).Warn("change feed dial failed, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		s.log.Info("change feed connected")

		// Drop the connection when the context ends so ReadJSON
		// unblocks.
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-done:
			}
		}()

		s.read(ctx, conn, out)
		close(done)
		conn.Close()
	}
}

func (s *wsSubscriber) read(ctx context.Context, conn *websocket.Conn, out chan<- Message) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				s.log.WithError(err).Warn("change feed read failed, reconnecting")
			}
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}
