package notify

import (
	"context"
	"errors"
	"fmt"

	"staybook/internal/config"
	"staybook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// LogChannel writes notifications to the application log. It always reaches
// the guest and is used where no real messenger is configured.
type LogChannel struct {
	logger zerolog.Logger
}

func NewLogChannel(logger *zerolog.Logger) *LogChannel {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify").Str("channel", ChannelLog).Logger()
	}
	return &LogChannel{logger: l}
}

func (c *LogChannel) Name() string                  { return ChannelLog }
func (c *LogChannel) CanReach(*models.Booking) bool { return true }

func (c *LogChannel) Send(_ context.Context, b *models.Booking, msg Message) error {
	c.logger.Info().
		Int64("booking_id", b.ID).
		Str("event_type", msg.EventType).
		Str("guest", b.GuestName).
		Msg(msg.Text)
	return nil
}

// TelegramSender is the part of the bot API the channel needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel messages guests that shared their Telegram chat id.
type TelegramChannel struct {
	bot TelegramSender
}

func NewTelegramChannel(bot TelegramSender) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func (c *TelegramChannel) Name() string { return ChannelTelegram }

func (c *TelegramChannel) CanReach(b *models.Booking) bool {
	return b.GuestChatID != 0
}

func (c *TelegramChannel) Send(_ context.Context, b *models.Booking, msg Message) error {
	if c.bot == nil {
		return errors.New("telegram bot is not configured")
	}
	if !c.CanReach(b) {
		return fmt.Errorf("booking %d has no telegram chat", b.ID)
	}
	out := tgbotapi.NewMessage(b.GuestChatID, msg.Text)
	out.DisableWebPagePreview = true
	if _, err := c.bot.Send(out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// BuildChannels creates the channels named in config, in order.
func BuildChannels(names []string, telegram TelegramSender, logger *zerolog.Logger) ([]Channel, error) {
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		switch name {
		case ChannelLog:
			channels = append(channels, NewLogChannel(logger))
		case ChannelTelegram:
			if telegram == nil {
				return nil, errors.New("telegram channel requires a bot")
			}
			channels = append(channels, NewTelegramChannel(telegram))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", name)
		}
	}
	return channels, nil
}
