// Package telegram is a minimal Telegram Bot API client: long polling for
// updates and sending text messages with reply keyboards.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Constants for Telegram client configuration
const (
	// DefaultBaseURL is the Bot API endpoint; the token is appended as /bot<token>.
	DefaultBaseURL = "https://api.telegram.org"
	// DefaultPollTimeout is the long-poll timeout passed to getUpdates.
	DefaultPollTimeout = 30 * time.Second
	// DefaultUpdateLimit caps the number of updates fetched per poll.
	DefaultUpdateLimit = 100
	// maxBackoff bounds the retry delay after a failed poll.
	maxBackoff = 30 * time.Second
)

// ErrTokenRequired is returned when no bot token is configured.
var ErrTokenRequired = errors.New("telegram bot token is required")

// Update is one entry returned by getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of the Bot API Message object GateChat reads.
type Message struct {
	MessageID int64    `json:"message_id"`
	From      *User    `json:"from"`
	Chat      Chat     `json:"chat"`
	Date      int64    `json:"date"`
	Text      string   `json:"text"`
	Contact   *Contact `json:"contact"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// Contact is a phone contact shared into the chat.
type Contact struct {
	PhoneNumber string `json:"phone_number"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	UserID      int64  `json:"user_id"`
}

// KeyboardButton is a reply keyboard button.
type KeyboardButton struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"request_contact,omitempty"`
}

// ReplyKeyboardMarkup shows a custom keyboard under the input field.
type ReplyKeyboardMarkup struct {
	Keyboard        [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard  bool               `json:"resize_keyboard,omitempty"`
	OneTimeKeyboard bool               `json:"one_time_keyboard,omitempty"`
}

// ReplyKeyboardRemove hides a previously shown custom keyboard.
type ReplyKeyboardRemove struct {
	RemoveKeyboard bool `json:"remove_keyboard"`
}

// ContactKeyboard returns a one-button keyboard that shares the user's contact.
func ContactKeyboard(label string) ReplyKeyboardMarkup {
	return ReplyKeyboardMarkup{
		Keyboard:       [][]KeyboardButton{{{Text: label, RequestContact: true}}},
		ResizeKeyboard: true,
	}
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token       string
	BaseURL     string
	PollTimeout time.Duration
	HTTPClient  *http.Client
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithBaseURL overrides the Bot API endpoint (used by tests and local Bot API servers).
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithPollTimeout sets the long-poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.PollTimeout = d
	}
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client talks to the Telegram Bot API over HTTPS.
type Client struct {
	baseURL     string
	pollTimeout time.Duration
	http        *http.Client
}

// NewClient creates a new Telegram client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{BaseURL: DefaultBaseURL, PollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, ErrTokenRequired
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Must outlive the long-poll timeout.
		httpClient = &http.Client{Timeout: cfg.PollTimeout + 30*time.Second}
	}
	return &Client{
		baseURL:     cfg.BaseURL + "/bot" + cfg.Token,
		pollTimeout: cfg.PollTimeout,
		http:        httpClient,
	}, nil
}

// apiCall makes a POST request to the Bot API and returns the raw result.
func (c *Client) apiCall(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram: %s: %s", method, result.Description)
	}
	return result.Result, nil
}

// GetMe verifies the token and returns the bot's own user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	data, err := c.apiCall(ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &u, nil
}

// GetUpdates long-polls for updates with id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	data, err := c.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           DefaultUpdateLimit,
		"timeout":         int(c.pollTimeout / time.Second),
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// SendMessage sends text to chatID. replyMarkup may be nil, a
// ReplyKeyboardMarkup or a ReplyKeyboardRemove.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyMarkup any) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyMarkup != nil {
		payload["reply_markup"] = replyMarkup
	}
	if _, err := c.apiCall(ctx, "sendMessage", payload); err != nil {
		return err
	}
	return nil
}

// Poll runs the getUpdates loop until ctx is cancelled, calling handle for
// every update in order. Failed polls are retried with exponential backoff.
func (c *Client) Poll(ctx context.Context, handle func(Update)) {
	slog.Info("Telegram.Poll: polling started")
	var offset int64
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			slog.Info("Telegram.Poll: polling stopped")
			return
		}
		updates, err := c.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Telegram.Poll: polling stopped")
				return
			}
			slog.Warn("Telegram.Poll: getUpdates failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			handle(u)
		}
	}
}
