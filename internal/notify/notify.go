// Package notify sends attendee messages and operator alerts.
package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Message is an attendee-facing notification. The recipient is the user id;
// contact resolution belongs to the sending provider.
type Message struct {
	UserID  string
	Subject string
	Body    string
	LinkURL string
}

// EmailSender delivers email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg Message) error
}

// WhatsAppSender delivers WhatsApp messages.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, msg Message) error
}

// LogSender writes every message to the log. It stands in for the email and
// WhatsApp providers in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(ctx context.Context, msg Message) error {
	s.logger.Info("email",
		zap.String("user_id", msg.UserID),
		zap.String("subject", msg.Subject),
		zap.String("link", msg.LinkURL))
	return nil
}

func (s *LogSender) SendWhatsApp(ctx context.Context, msg Message) error {
	s.logger.Info("whatsapp",
		zap.String("user_id", msg.UserID),
		zap.String("link", msg.LinkURL))
	return nil
}

// OpsNotifier alerts operators about situations that need a human.
type OpsNotifier interface {
	Notify(ctx context.Context, text string) error
}

// TelegramNotifier posts alerts to one Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier authorizes the bot token.
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("telegram ops chat id is not set")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// LogNotifier logs alerts when no chat is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, text string) error {
	n.logger.Warn("ops alert", zap.String("text", text))
	return nil
}
