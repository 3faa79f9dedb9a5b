// Package telegram provides a client for sending surveillance reports via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/tradeguard/internal/logger"
	"github.com/rewired-gh/tradeguard/internal/models"
)

// sender is the subset of the bot API the client sends through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TopFunc returns the k highest-risk stored anomalies for the /top command.
type TopFunc func(k int) ([]models.AnomalyRecord, error)

// Client handles Telegram notifications.
type Client struct {
	api            *tgbotapi.BotAPI
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	top            TopFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.api = bot
	return c, nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetTopFunc enables the /top command.
func (c *Client) SetTopFunc(fn TopFunc) {
	c.top = fn
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

const defaultTopK = 5

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "top":
		if c.top == nil {
			return
		}
		k := defaultTopK
		if n, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments())); err == nil && n > 0 {
			k = n
		}
		records, err := c.top(k)
		if err != nil {
			logger.Warn("Failed to load top anomalies: %v", err)
			return
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, formatRecords(records))
		reply.ParseMode = "MarkdownV2"
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message, retrying with exponential
// backoff up to maxRetries attempts.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = c.retryDelayBase
	strategy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		_, err := c.bot.Send(msg)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(strategy, uint64(c.maxRetries-1))); err != nil {
		return fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}
	return nil
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Surveillance error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Surveillance recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendReport sends a batch summary with its top anomalies.
func (c *Client) SendReport(summary models.BatchSummary, top []models.ScoredRow) error {
	return c.sendMarkdownV2(formatReport(summary, top))
}

func levelEmoji(level models.RiskLevel) string {
	switch level {
	case models.RiskHigh:
		return "🔴"
	case models.RiskMedium:
		return "🟠"
	default:
		return "🟢"
	}
}

// formatReport formats a summary and its top anomalies into a MarkdownV2 message.
func formatReport(summary models.BatchSummary, top []models.ScoredRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 *Surveillance report: %s*\n\n", escapeMarkdownV2(summary.Symbol))
	fmt.Fprintf(&b, "📅 %d days analyzed, %d anomalies\n", summary.TotalDays, summary.Anomalies)
	fmt.Fprintf(&b, "%s High %d  %s Medium %d  %s Low %d\n",
		levelEmoji(models.RiskHigh), summary.HighRisk,
		levelEmoji(models.RiskMedium), summary.MediumRisk,
		levelEmoji(models.RiskLow), summary.LowRisk)
	fmt.Fprintf(&b, "📊 Risk avg %s, max %s\n",
		escapeMarkdownV2(fmt.Sprintf("%.1f", summary.AvgRiskScore)),
		escapeMarkdownV2(fmt.Sprintf("%.1f", summary.MaxRiskScore)))
	fmt.Fprintf(&b, "Price %d · Volume %d · ML %d · LOF %d\n",
		summary.PriceAnomalies, summary.VolumeAnomalies, summary.MLAnomalies, summary.LOFAnomalies)

	if len(top) == 0 {
		return b.String()
	}
	b.WriteString("\n*Top anomalies*\n")
	for i, r := range top {
		fmt.Fprintf(&b, "%d\\. %s %s *%s* %s\n",
			i+1,
			levelEmoji(r.RiskLevel),
			escapeMarkdownV2(r.Date.Format("2006-01-02")),
			escapeMarkdownV2(fmt.Sprintf("%.1f", r.RiskScore)),
			escapeMarkdownV2(r.AnomalyType))
	}
	return b.String()
}

func formatRecords(records []models.AnomalyRecord) string {
	if len(records) == 0 {
		return "No anomalies stored"
	}
	var b strings.Builder
	b.WriteString("*Top stored anomalies*\n")
	for i, r := range records {
		fmt.Fprintf(&b, "%d\\. %s %s %s *%s* %s\n",
			i+1,
			levelEmoji(r.RiskLevel),
			escapeMarkdownV2(r.Symbol),
			escapeMarkdownV2(r.Date.Format("2006-01-02")),
			escapeMarkdownV2(fmt.Sprintf("%.1f", r.RiskScore)),
			escapeMarkdownV2(r.AnomalyType))
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
