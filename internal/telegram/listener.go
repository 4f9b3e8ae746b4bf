// Package telegram turns Telegram chat messages into bot commands. It long
// polls getUpdates, parses the slash commands, and dispatches them to the
// command service, replying with the result summary.
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
	"strings"
	"time"

	"github.com/dmarchuk/tierbot/internal/command"
	"github.com/dmarchuk/tierbot/internal/notify"
)

const helpText = `Commands:
/buy <mint> <targetMarketCapUSD> <size>
    size is SOL ("1.5") or a balance percentage ("25%")
/sell <mint>
/report
/balance
/help`

// Commander is the command surface the listener dispatches to. Satisfied by
// *command.Service.
type Commander interface {
	OpenPosition(ctx context.Context, assetID string, targetMarketCap float64, size command.SizeSpec) (command.Result, error)
	ClosePosition(ctx context.Context, assetID string) (command.Result, error)
	ReportPnL(ctx context.Context) (command.Result, error)
	GetBalance(ctx context.Context) (command.Result, error)
}

// Config tunes the listener.
type Config struct {
	Token string
	// AllowedChatID restricts who may issue commands. Zero allows any chat,
	// which is only sane in dry-run setups.
	AllowedChatID int64
	// PollTimeout is the getUpdates long-poll window.
	PollTimeout time.Duration
}

// Listener is a getUpdates long-poll loop.
type Listener struct {
	cfg      Config
	baseURL  string
	commands Commander
	client   *http.Client
	logger   *slog.Logger
	offset   int64
}

// New creates a Listener.
func New(cfg Config, commands Commander, logger *slog.Logger) *Listener {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Listener{
		cfg:      cfg,
		baseURL:  notify.DefaultTelegramAPI,
		commands: commands,
		// The HTTP timeout must outlast the server-side long-poll window.
		client: &http.Client{Timeout: cfg.PollTimeout + 15*time.Second},
		logger: logger.With(slog.String("component", "telegram")),
	}
}

// WithBaseURL points the listener at an alternative API root.
func (l *Listener) WithBaseURL(baseURL string) *Listener {
	l.baseURL = baseURL
	return l
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

type updatesResponse struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []update `json:"result"`
}

// Run polls for updates until ctx is cancelled. Poll failures back off and
// retry; a malformed command replies with usage instead of failing the loop.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "listening for commands",
		slog.Int64("allowed_chat_id", l.cfg.AllowedChatID),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := l.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.WarnContext(ctx, "getUpdates failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= l.offset {
				l.offset = u.UpdateID + 1
			}
			l.handle(ctx, u)
		}
	}
}

// getUpdates performs one long-poll request.
func (l *Listener) getUpdates(ctx context.Context) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(l.offset, 10))
	q.Set("timeout", strconv.Itoa(int(l.cfg.PollTimeout.Seconds())))
	q.Set("allowed_updates", `["message"]`)

	reqURL := fmt.Sprintf("%s/bot%s/getUpdates?%s", l.baseURL, l.cfg.Token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: getUpdates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("telegram: getUpdates status %d: %s", resp.StatusCode, string(body))
	}

	var parsed updatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram: getUpdates rejected: %s", parsed.Description)
	}
	return parsed.Result, nil
}

// handle dispatches one update and replies in the originating chat.
func (l *Listener) handle(ctx context.Context, u update) {
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	chatID := u.Message.Chat.ID
	if l.cfg.AllowedChatID != 0 && chatID != l.cfg.AllowedChatID {
		l.logger.WarnContext(ctx, "command from unauthorized chat ignored",
			slog.Int64("chat_id", chatID),
		)
		return
	}

	reply := l.dispatch(ctx, u.Message.Text)
	if reply == "" {
		return
	}
	if err := l.sendMessage(ctx, chatID, reply); err != nil {
		l.logger.WarnContext(ctx, "reply failed", slog.String("error", err.Error()))
	}
}

// dispatch parses and executes one command, returning the reply text.
func (l *Listener) dispatch(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	// "/buy@tierbot" addressing in group chats.
	cmd, _, _ := strings.Cut(fields[0], "@")

	switch cmd {
	case "/buy":
		if len(fields) != 4 {
			return "Usage: /buy <mint> <targetMarketCapUSD> <size>"
		}
		target, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || target <= 0 {
			return fmt.Sprintf("Invalid market cap target %q", fields[2])
		}
		size, err := command.ParseSizeSpec(fields[3])
		if err != nil {
			return fmt.Sprintf("Invalid size %q: use SOL amount or percentage", fields[3])
		}
		return l.reply(l.commands.OpenPosition(ctx, fields[1], target, size))

	case "/sell":
		if len(fields) != 2 {
			return "Usage: /sell <mint>"
		}
		return l.reply(l.commands.ClosePosition(ctx, fields[1]))

	case "/report":
		return l.reply(l.commands.ReportPnL(ctx))

	case "/balance":
		return l.reply(l.commands.GetBalance(ctx))

	case "/help", "/start":
		return helpText

	default:
		return fmt.Sprintf("Unknown command %s\n%s", cmd, helpText)
	}
}

// reply renders a command result as chat text.
func (l *Listener) reply(res command.Result, err error) string {
	if err != nil && res.Summary == "" {
		return fmt.Sprintf("Failed: %v", err)
	}
	return res.Summary
}

// sendMessage posts a plain-text reply to the chat.
func (l *Listener) sendMessage(ctx context.Context, chatID int64, text string) error {
	q := url.Values{}
	q.Set("chat_id", strconv.FormatInt(chatID, 10))
	q.Set("text", text)

	reqURL := fmt.Sprintf("%s/bot%s/sendMessage?%s", l.baseURL, l.cfg.Token, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendMessage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: sendMessage status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
