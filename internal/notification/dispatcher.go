// Package notification is the boundary to the push relay. Dispatch is
// best-effort after state commit; a relay failure never rolls back an
// entitlement transition.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Notification is a fire-and-forget entitlement change message.
type Notification struct {
	Event    string        `json:"event"`
	UserID   *snowflake.ID `json:"user_id,omitempty"`
	DeviceID string        `json:"device_id,omitempty"`
	Title    string        `json:"title"`
	Body     string        `json:"body"`
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// relayDispatcher logs every notification and, when a relay URL is
// configured, POSTs it there. Errors are logged and dropped.
type relayDispatcher struct {
	relayURL string
	client   *http.Client
	log      *zap.Logger
}

func NewDispatcher(relayURL string, log *zap.Logger) Dispatcher {
	return &relayDispatcher{
		relayURL: relayURL,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      log.Named("notification.dispatcher"),
	}
}

func (d *relayDispatcher) Dispatch(ctx context.Context, n Notification) {
	log := d.log.With(
		zap.String("event", n.Event),
		zap.String("device_id", n.DeviceID),
	)
	if n.UserID != nil {
		log = log.With(zap.String("user_id", n.UserID.String()))
	}
	log.Info("notification dispatched")

	if d.relayURL == "" {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		log.Warn("notification encode failed", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.relayURL, bytes.NewReader(payload))
	if err != nil {
		log.Warn("notification request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn("notification relay unreachable", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn("notification relay rejected", zap.Int("status", resp.StatusCode))
	}
}
