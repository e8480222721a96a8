// Package telegram pushes settlement notices to Telegram chats and lets the
// configured admin enroll a chat with the /activate_autobot command. Nothing
// here may fail the trading path; every delivery error ends in a log line.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const apiBase = "https://api.telegram.org"

const pollTimeout = 30 * time.Second

// Targets is the persisted set of chats to notify.
type Targets interface {
	TelegramTargets(ctx context.Context) ([]string, error)
	AddTelegramTarget(ctx context.Context, chatID string) error
}

// Notifier implements marketbot.Notifier over the Telegram bot API.
type Notifier struct {
	token         string
	adminUsername string
	targets       Targets
	http          *http.Client
	logger        *slog.Logger
}

// New builds a notifier. adminUsername may carry a leading @.
func New(token, adminUsername string, targets Targets) *Notifier {
	return &Notifier{
		token:         token,
		adminUsername: strings.TrimPrefix(adminUsername, "@"),
		targets:       targets,
		http:          &http.Client{Timeout: pollTimeout + 15*time.Second},
		logger:        slog.Default().WithGroup("telegram"),
	}
}

// Notify sends text to every enrolled chat. Errors are logged per chat and
// swallowed.
func (n *Notifier) Notify(ctx context.Context, text string) {
	chatIDs, err := n.targets.TelegramTargets(ctx)
	if err != nil {
		n.logger.Warn("cannot load notification targets", "error", err)
		return
	}
	for _, chatID := range chatIDs {
		if err := n.sendMessage(ctx, chatID, text); err != nil {
			n.logger.Warn("notification delivery failed", "chatId", chatID, "error", err)
		}
	}
}

func (n *Notifier) sendMessage(ctx context.Context, chatID, text string) error {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage?%s", apiBase, n.token, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("telegram: %s", result.Description)
	}
	return nil
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		From struct {
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// RunCommandLoop long-polls for messages and handles chat enrollment until
// ctx is canceled.
func (n *Notifier) RunCommandLoop(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		updates, err := n.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("update poll failed", "error", err)
			time.Sleep(5 * time.Second)
			continue
		}
		for _, u := range updates {
			offset = u.UpdateID + 1
			n.handleUpdate(ctx, u)
		}
	}
}

func (n *Notifier) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d",
		apiBase, n.token, int(pollTimeout.Seconds()), offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram rejected getUpdates")
	}
	return result.Result, nil
}

func (n *Notifier) handleUpdate(ctx context.Context, u update) {
	msg := u.Message
	if msg == nil || msg.From.Username != n.adminUsername {
		return
	}
	if msg.Text != "/activate_autobot" {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	if err := n.targets.AddTelegramTarget(ctx, chatID); err != nil {
		n.logger.Warn("cannot enroll chat", "chatId", chatID, "error", err)
		return
	}
	n.logger.Info("chat enrolled for notifications", "chatId", chatID)
	if err := n.sendMessage(ctx, chatID, "Autobot activated in this chat!"); err != nil {
		n.logger.Warn("enrollment reply failed", "chatId", chatID, "error", err)
	}
}
