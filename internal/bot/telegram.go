package bot

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// maxMessageRunes is the Telegram limit on the text of one message
const maxMessageRunes = 4096

// botAPI is the part of tgbotapi.BotAPI the client drives
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client connects the scheduler to its operator chat.
// Incoming updates are restricted to bot commands from that chat.
type Client struct {
	api    botAPI
	chatID int64
}

// NewClient creates a Telegram client for the operator chat.
// A zero chatID accepts commands from any chat.
func NewClient(token string, chatID int64) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Int64("chatID", chatID).Msg("Telegram bot authorized")

	return newClient(api, chatID), nil
}

func newClient(api botAPI, chatID int64) *Client {
	return &Client{api: api, chatID: chatID}
}

// ChatID returns the operator chat
func (c *Client) ChatID() int64 {
	return c.chatID
}

// Updates returns a channel of command updates from the operator chat.
// The channel is closed after StopReceivingUpdates.
func (c *Client) Updates() <-chan tgbotapi.Update {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	return c.filter(c.api.GetUpdatesChan(u))
}

func (c *Client) filter(in tgbotapi.UpdatesChannel) <-chan tgbotapi.Update {
	out := make(chan tgbotapi.Update)
	go func() {
		defer close(out)
		for update := range in {
			if c.accepts(update) {
				out <- update
			}
		}
	}()
	return out
}

// accepts reports whether update is a command the scheduler should act on
func (c *Client) accepts(update tgbotapi.Update) bool {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return false
	}
	if c.chatID != 0 && msg.Chat.ID != c.chatID {
		log.Warn().Int64("chatID", msg.Chat.ID).Str("command", msg.Command()).Msg("Ignoring command from unknown chat")
		return false
	}
	return true
}

// StopReceivingUpdates stops the update channel
func (c *Client) StopReceivingUpdates() {
	c.api.StopReceivingUpdates()
}

// SendMessage sends a plain text message to a chat
func (c *Client) SendMessage(chatID int64, text string) error {
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, clip(text))); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendMarkdown sends a MarkdownV2 message to a chat.
// If Telegram cannot parse the markup the text is resent without formatting.
func (c *Client) SendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, clip(text))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := c.api.Send(msg)
	if err == nil {
		return nil
	}
	if !isMarkupError(err) {
		return fmt.Errorf("failed to send markdown message: %w", err)
	}

	log.Warn().Err(err).Int64("chatID", chatID).Msg("Markdown rejected, resending as plain text")
	return c.SendMessage(chatID, unescapeMarkdown(text))
}

func isMarkupError(err error) bool {
	var apiErr *tgbotapi.Error
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Message, "can't parse entities")
}

// unescapeMarkdown drops MarkdownV2 escapes and emphasis markers
func unescapeMarkdown(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	escaped := false
	for _, r := range text {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*' || r == '_':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// clip shortens text to the Telegram message limit
func clip(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageRunes-1]) + "…"
}
