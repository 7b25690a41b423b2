// Package matrix is the Matrix chat adapter. It feeds text messages
// from the configured rooms into the interaction pipeline and sends the
// replies back.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds the Matrix connection settings.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms limits which rooms the bot listens in. Empty means all
	// joined rooms.
	Rooms []string
}

// Handler turns one inbound message into the reply to send. The sender
// is the Matrix user ID of the author.
type Handler func(ctx context.Context, sender, text string) string

// Client wraps the mautrix client with a reconnecting sync loop.
type Client struct {
	client  *mautrix.Client
	cfg     Config
	logger  *slog.Logger
	stopCh  chan struct{}
	handler Handler
}

func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	return &Client{
		client: client,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Start joins the configured rooms and begins syncing in the
// background. The sync loop reconnects with exponential backoff; a
// transient homeserver error must not leave the bot deaf.
func (c *Client) Start(ctx context.Context, handler Handler) error {
	c.handler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, c.handleMessage)

	for _, room := range c.cfg.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(room)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", room, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			backoff = backoffMin
			if err := c.client.Sync(); err != nil {
				select {
				case <-c.stopCh:
					return
				default:
				}
				c.logger.Error("matrix sync stopped, reconnecting",
					"error", err, "backoff", backoff)
				select {
				case <-c.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			// Sync returns nil only after a clean StopSync.
			return
		}
	}()

	c.logger.Info("matrix adapter started",
		"homeserver", c.cfg.Homeserver,
		"rooms", len(c.cfg.Rooms))
	return nil
}

// Stop shuts the sync loop down.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendMessage sends plain text to a room.
func (c *Client) SendMessage(ctx context.Context, roomID, message string) error {
	if _, err := c.client.SendText(ctx, id.RoomID(roomID), message); err != nil {
		return fmt.Errorf("matrix: send to %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) allowedRoom(roomID string) bool {
	if len(c.cfg.Rooms) == 0 {
		return true
	}
	for _, r := range c.cfg.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.cfg.UserID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	if !c.allowedRoom(evt.RoomID.String()) {
		return
	}
	if c.handler == nil {
		return
	}

	reply := c.handler(ctx, evt.Sender.String(), content.Body)
	if reply == "" {
		return
	}
	if err := c.SendMessage(ctx, evt.RoomID.String(), reply); err != nil {
		c.logger.Error("matrix reply failed", "room", evt.RoomID, "error", err)
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	if _, err := c.client.JoinRoomByID(ctx, roomID); err != nil {
		// Homeservers answer M_FORBIDDEN when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("join room refused, assuming already a member", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
