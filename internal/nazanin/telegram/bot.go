// Package telegram is the Telegram chat adapter, built on the Bot API's
// long-polling getUpdates endpoint.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	apiBase = "https://api.telegram.org"
	// pollTimeout is the long-poll hold time requested from Telegram.
	pollTimeout = 30 * time.Second
)

// Handler turns one inbound message into the reply to send. The sender
// is the numeric Telegram user id as a string.
type Handler func(ctx context.Context, sender, text string) string

// Bot long-polls the Telegram Bot API and dispatches text messages.
type Bot struct {
	token   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	stopCh  chan struct{}
	handler Handler
	offset  int64
}

// Option configures a Bot.
type Option func(*Bot)

// WithBaseURL points the bot at a different API host. Tests use it to
// target a local server.
func WithBaseURL(u string) Option {
	return func(b *Bot) { b.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.client = c }
}

func New(token string, logger *slog.Logger, opts ...Option) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bot{
		token:   token,
		baseURL: apiBase,
		// The long poll holds the connection open for pollTimeout;
		// the client timeout needs headroom beyond that.
		client: &http.Client{Timeout: pollTimeout + 10*time.Second},
		logger: logger,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// --- wire types (subset of the Bot API) ---

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

type message struct {
	From *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text string `json:"text"`
}

// Start verifies the token with getMe and begins polling in the
// background. Poll errors back off exponentially and never stop the
// loop; only Stop or context cancellation does.
func (b *Bot) Start(ctx context.Context, handler Handler) error {
	b.handler = handler

	if _, err := b.call(ctx, "getMe", nil); err != nil {
		return fmt.Errorf("telegram: getMe: %w", err)
	}

	go b.pollLoop(ctx)
	b.logger.Info("telegram adapter started")
	return nil
}

// Stop halts the poll loop. In-flight handlers run to completion.
func (b *Bot) Stop() {
	close(b.stopCh)
}

func (b *Bot) pollLoop(ctx context.Context) {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("telegram poll failed, backing off",
				"error", err, "backoff", backoff)
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
			continue
		}
		backoff = backoffMin

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" || u.Message.From == nil {
				continue
			}
			b.dispatch(ctx, u.Message)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, msg *message) {
	sender := strconv.FormatInt(msg.From.ID, 10)
	reply := b.handler(ctx, sender, msg.Text)
	if reply == "" {
		return
	}
	if err := b.SendMessage(ctx, msg.Chat.ID, reply); err != nil {
		b.logger.Error("telegram reply failed", "chat", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	params := url.Values{
		"offset":  {strconv.FormatInt(b.offset, 10)},
		"timeout": {strconv.Itoa(int(pollTimeout.Seconds()))},
	}
	raw, err := b.call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends plain text to a chat.
func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := url.Values{
		"chat_id": {strconv.FormatInt(chatID, 10)},
		"text":    {text},
	}
	_, err := b.call(ctx, "sendMessage", params)
	return err
}

// call performs one Bot API method call and returns the raw result.
func (b *Bot) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", b.baseURL, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("%s: api error: %s", method, parsed.Description)
	}
	return parsed.Result, nil
}
