// Package telegram mirrors Voice Relay approval holds to a Telegram chat,
// so a PendingApproval can be resolved remotely (headless operation) as
// well as by voice keyword. Answered via inline-keyboard callback, wired
// to the same accept/reject resolver the keyword listener drives.
package telegram

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"reduck/pkg/voice"
)

// Config is the raw JSON shape of config.json's "notify" section.
type Config struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

const (
	acceptData = "reduck_approve"
	rejectData = "reduck_reject"
)

// Notifier mirrors PendingApproval prompts to one fixed Telegram chat.
// It implements the whole voice.Collaborator interface; main.go composes
// it alongside the UI-facing collaborator.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	mu      sync.Mutex
	current *voice.PendingApproval
	msgID   int
}

// New dials the Telegram Bot API and starts the update loop that answers
// inline-keyboard callbacks against whatever approval is currently live.
func New(cfg Config) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("notify/telegram: bot init: %w", err)
	}

	n := &Notifier{bot: bot, chatID: cfg.ChatID}
	go n.pollCallbacks()
	return n, nil
}

func (n *Notifier) pollCallbacks() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	for update := range n.bot.GetUpdatesChan(u) {
		if update.CallbackQuery == nil {
			continue
		}
		cb := update.CallbackQuery

		n.answerCallback(cb.ID)

		n.mu.Lock()
		approval := n.current
		n.mu.Unlock()
		if approval == nil {
			continue
		}

		switch cb.Data {
		case acceptData:
			approval.Accept()
		case rejectData:
			approval.Reject()
		default:
			slog.Warn("notify/telegram: unknown callback data", "data", cb.Data)
		}
	}
}

func (n *Notifier) answerCallback(id string) {
	if _, err := n.bot.Request(tgbotapi.NewCallback(id, "")); err != nil {
		slog.Error("notify/telegram: answer callback failed", "error", err)
	}
}

// PresentApproval mirrors the approval prompt with Accept/Reject buttons.
// Resolution is exactly-once at the PendingApproval itself; this is just
// one more caller racing the voice keyword listener and the web UI.
func (n *Notifier) PresentApproval(approval *voice.PendingApproval) {
	n.mu.Lock()
	n.current = approval
	n.mu.Unlock()

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Accept", acceptData),
			tgbotapi.NewInlineKeyboardButtonData("Reject", rejectData),
		),
	)

	msg := tgbotapi.NewMessage(n.chatID, "Approval requested: "+approval.Instruction)
	msg.ReplyMarkup = keyboard

	sent, err := n.bot.Send(msg)
	if err != nil {
		slog.Error("notify/telegram: send approval prompt failed", "error", err)
		return
	}
	n.mu.Lock()
	n.msgID = sent.MessageID
	n.mu.Unlock()
}

// Toast mirrors a core toast message as a plain chat message.
func (n *Notifier) Toast(message string) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, message)); err != nil {
		slog.Error("notify/telegram: toast send failed", "error", err)
	}
}

// StatusChanged mirrors connection status transitions.
func (n *Notifier) StatusChanged(state voice.State) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, "Status: "+state.String())); err != nil {
		slog.Error("notify/telegram: status send failed", "error", err)
	}
}

// UtteranceCommitted mirrors a committed turn for visibility in the chat.
func (n *Notifier) UtteranceCommitted(msg voice.CommittedMessage) {
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.chatID, string(msg.Role)+": "+msg.Text)); err != nil {
		slog.Error("notify/telegram: utterance mirror failed", "error", err)
	}
}

// ParseChatID is a convenience helper for config loaders that accept the
// chat id as a string (Telegram chat ids are int64).
func ParseChatID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

var _ voice.Collaborator = (*Notifier)(nil)
