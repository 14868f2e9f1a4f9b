// Package session is the thin shell between a multiworld server and the
// logic engine. It translates server events into engine mutations and local
// checks into server messages; it never touches engine state directly.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/multitracker/internal/engine"
)

// Config holds connection settings for the multiworld server.
type Config struct {
	// URL is the websocket endpoint, e.g. "wss://host:port".
	URL string
	// Slot is the player slot to authenticate as.
	Slot string
	// Password is the optional room password.
	Password string
	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration
	// ReconnectMin and ReconnectMax bound the reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// FlushTimeout bounds engine flushes after applying a server message.
	// Longer rule sets warrant a longer timeout.
	FlushTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.ReconnectMin <= 0 {
		out.ReconnectMin = time.Second
	}
	if out.ReconnectMax <= 0 {
		out.ReconnectMax = 30 * time.Second
	}
	if out.FlushTimeout <= 0 {
		out.FlushTimeout = 5 * time.Second
	}
	return out
}

// Wire messages. The shape follows the multiworld text protocol: every frame
// is a JSON array of commands discriminated on "cmd".

type serverMessage struct {
	Cmd              string         `json:"cmd"`
	Items            []receivedItem `json:"items,omitempty"`
	CheckedLocations []string       `json:"checked_locations,omitempty"`
	Slot             string         `json:"slot,omitempty"`
	Reason           string         `json:"reason,omitempty"`
}

type receivedItem struct {
	Item   string `json:"item"`
	Count  int    `json:"count"`
	Player string `json:"player,omitempty"`
}

type connectMessage struct {
	Cmd      string `json:"cmd"`
	Slot     string `json:"slot"`
	Password string `json:"password,omitempty"`
	UUID     string `json:"uuid"`
	Version  string `json:"version"`
}

type locationChecksMessage struct {
	Cmd       string   `json:"cmd"`
	Locations []string `json:"locations"`
}

// Client connects to a multiworld server and feeds its events into the
// engine's mutation API. Each server message is applied inside one batch so
// the engine recomputes once per message, not once per item.
type Client struct {
	cfg    Config
	eng    *engine.Engine
	logger *zap.Logger
	id     string

	// sendQueue carries outbound frames from NotifyChecks to the write loop.
	sendQueue chan any
}

// NewClient creates a Client for the given engine.
//
// Precondition: eng and logger must be non-nil.
func NewClient(cfg Config, eng *engine.Engine, logger *zap.Logger) *Client {
	return &Client{
		cfg:       cfg.withDefaults(),
		eng:       eng,
		logger:    logger,
		id:        uuid.NewString(),
		sendQueue: make(chan any, 64),
	}
}

// Run connects and processes server messages until ctx is cancelled,
// reconnecting with exponential backoff on connection loss. Protocol errors
// are recoverable: the engine keeps serving its last snapshot while the
// connection is down.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("session: connection lost",
			zap.String("url", c.cfg.URL),
			zap.Duration("retry_in", backoff),
			zap.Error(err),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("session: dialing %q: %w", c.cfg.URL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON([]any{connectMessage{
		Cmd:      "Connect",
		Slot:     c.cfg.Slot,
		Password: c.cfg.Password,
		UUID:     c.id,
		Version:  "0.6",
	}}); err != nil {
		return fmt.Errorf("session: sending connect: %w", err)
	}

	c.logger.Info("session: connected",
		zap.String("url", c.cfg.URL),
		zap.String("slot", c.cfg.Slot),
	)

	// Writer goroutine: the read loop below owns the connection lifetime.
	writeCtx, stopWriter := context.WithCancel(ctx)
	defer stopWriter()
	go c.writeLoop(writeCtx, conn)

	for {
		var frame []json.RawMessage
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("session: reading frame: %w", err)
		}
		for _, raw := range frame {
			var msg serverMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				c.logger.Warn("session: malformed command", zap.Error(err))
				continue
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case msg := <-c.sendQueue:
			if err := conn.WriteJSON([]any{msg}); err != nil {
				c.logger.Warn("session: write failed", zap.Error(err))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg serverMessage) {
	switch msg.Cmd {
	case "Connected":
		c.logger.Info("session: slot accepted", zap.String("slot", msg.Slot))
	case "ConnectionRefused":
		c.logger.Warn("session: connection refused", zap.String("reason", msg.Reason))
	case "ReceivedItems":
		c.applyItems(ctx, msg.Items)
	case "RoomUpdate":
		c.applyChecks(ctx, msg.CheckedLocations)
	default:
		c.logger.Debug("session: ignoring command", zap.String("cmd", msg.Cmd))
	}
}

// applyItems applies a full item sync inside one batch: one recompute and
// one publish no matter how many items arrived.
func (c *Client) applyItems(ctx context.Context, items []receivedItem) {
	if len(items) == 0 {
		return
	}
	if err := c.eng.BeginBatchUpdate(ctx, false); err != nil {
		c.logger.Warn("session: begin batch", zap.Error(err))
		return
	}
	// Commit must run even if a mutation fails, or the batch flag would
	// stay stuck and the snapshot stale.
	defer func() {
		if err := c.eng.CommitBatchUpdate(ctx); err != nil {
			c.logger.Warn("session: commit batch", zap.Error(err))
		}
		c.flush(ctx)
	}()

	for _, it := range items {
		count := it.Count
		if count == 0 {
			count = 1
		}
		if err := c.eng.ApplyItem(ctx, it.Player, it.Item, count); err != nil {
			c.logger.Warn("session: apply item",
				zap.String("item", it.Item),
				zap.Error(err),
			)
		}
	}
}

// applyChecks marks locations checked by other sessions of this slot.
func (c *Client) applyChecks(ctx context.Context, locations []string) {
	if len(locations) == 0 {
		return
	}
	if err := c.eng.BeginBatchUpdate(ctx, false); err != nil {
		c.logger.Warn("session: begin batch", zap.Error(err))
		return
	}
	defer func() {
		if err := c.eng.CommitBatchUpdate(ctx); err != nil {
			c.logger.Warn("session: commit batch", zap.Error(err))
		}
		c.flush(ctx)
	}()

	for _, name := range locations {
		if err := c.eng.CheckLocation(ctx, "", name); err != nil {
			c.logger.Warn("session: apply check",
				zap.String("location", name),
				zap.Error(err),
			)
		}
	}
}

// flush waits for the engine to drain so the next snapshot read reflects
// this message. On timeout consumers keep the last cached snapshot; that is
// an expected, recoverable condition.
func (c *Client) flush(ctx context.Context) {
	flushCtx, cancel := context.WithTimeout(ctx, c.cfg.FlushTimeout)
	defer cancel()
	if err := c.eng.Flush(flushCtx); err != nil {
		c.logger.Warn("session: flush timed out", zap.Error(err))
	}
}

// NotifyChecks reports locally checked, networked locations to the server.
// Local-only locations never produce a round-trip.
func (c *Client) NotifyChecks(locations ...string) {
	if len(locations) == 0 {
		return
	}
	msg := locationChecksMessage{Cmd: "LocationChecks", Locations: locations}
	select {
	case c.sendQueue <- msg:
	default:
		c.logger.Warn("session: send queue full, dropping location checks",
			zap.Int("count", len(locations)),
		)
	}
}
