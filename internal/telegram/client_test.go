package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/tradeguard/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

// fakeBot fails the first failures sends and records the rest.
type fakeBot struct {
	failures int
	calls    int
	sent     []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	if f.calls <= f.failures {
		return tgbotapi.Message{}, errors.New("telegram unavailable")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	bot := &fakeBot{failures: 2}
	c := newClient(bot, 42, 3, time.Millisecond)

	if err := c.SendRecovery(4); err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if bot.calls != 3 {
		t.Errorf("calls = %d, want 3", bot.calls)
	}
	if len(bot.sent) != 1 || bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != "MarkdownV2" {
		t.Errorf("unexpected sent messages: %+v", bot.sent)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	bot := &fakeBot{failures: 10}
	c := newClient(bot, 42, 3, time.Millisecond)

	err := c.SendError(errors.New("disk full"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if bot.calls != 3 {
		t.Errorf("calls = %d, want 3", bot.calls)
	}
	if !strings.Contains(err.Error(), "telegram unavailable") {
		t.Errorf("error should wrap the last send failure: %v", err)
	}
}

func TestFormatReport(t *testing.T) {
	summary := models.BatchSummary{
		Symbol: "BRK.B", TotalDays: 60, Anomalies: 2,
		HighRisk: 1, MediumRisk: 1, LowRisk: 58,
		AvgRiskScore: 4.25, MaxRiskScore: 72.5, PriceAnomalies: 1,
	}
	top := []models.ScoredRow{{RiskScore: 72.5, RiskLevel: models.RiskHigh, AnomalyType: "Price, ML Pattern"}}
	top[0].Date = time.Date(2024, 2, 14, 0, 0, 0, 0, time.UTC)

	msg := formatReport(summary, top)
	for _, want := range []string{
		"BRK\\.B",
		"60 days analyzed, 2 anomalies",
		"max 72\\.5",
		"*Top anomalies*",
		"1\\. 🔴 2024\\-02\\-14 *72\\.5* Price, ML Pattern",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("report missing %q:\n%s", want, msg)
		}
	}

	if quiet := formatReport(models.BatchSummary{Symbol: "X"}, nil); strings.Contains(quiet, "Top anomalies") {
		t.Errorf("report without anomalies should omit the list:\n%s", quiet)
	}
}

func TestHandleCommand_Top(t *testing.T) {
	bot := &fakeBot{}
	c := newClient(bot, 42, 1, time.Millisecond)

	var asked int
	c.SetTopFunc(func(k int) ([]models.AnomalyRecord, error) {
		asked = k
		return []models.AnomalyRecord{{Symbol: "ACME", RiskScore: 55, RiskLevel: models.RiskMedium, AnomalyType: "Volume"}}, nil
	})

	msg := &tgbotapi.Message{
		Text:     "/top 2",
		Chat:     &tgbotapi.Chat{ID: 7},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 4}},
	}
	c.handleCommand(msg)

	if asked != 2 {
		t.Errorf("top asked for %d, want 2", asked)
	}
	if len(bot.sent) != 1 || bot.sent[0].ChatID != 7 {
		t.Fatalf("expected one reply to chat 7, got %+v", bot.sent)
	}
	if !strings.Contains(bot.sent[0].Text, "ACME") {
		t.Errorf("reply missing symbol: %s", bot.sent[0].Text)
	}
}
