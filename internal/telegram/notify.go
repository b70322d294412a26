// Package telegram posts run summaries to a configured channel.
package telegram

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Adnuntius/ASgard/internal/classify"
	"github.com/Adnuntius/ASgard/internal/commons"
	"github.com/Adnuntius/ASgard/internal/pipeline"
)

// Notifier sends classification run summaries to a Telegram channel.
type Notifier struct {
	api       *tgbotapi.BotAPI
	channelID string
}

// NewNotifier authorizes against the bot API and normalizes the channel
// reference. Accepted channel forms: @name, t.me/name, bare name, or a
// numeric chat ID.
func NewNotifier(token, channel string) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is empty")
	}
	if channel == "" {
		return nil, fmt.Errorf("telegram channel is empty")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API client: %w", err)
	}
	botInfo, err := api.GetMe()
	if err != nil {
		return nil, fmt.Errorf("failed to verify bot token (GetMe failed): %w", err)
	}
	commons.Logger.Infof("Authorized as bot @%s", botInfo.UserName)

	if strings.HasPrefix(channel, "t.me/") {
		channel = "@" + strings.TrimPrefix(channel, "t.me/")
	}
	if !strings.HasPrefix(channel, "@") && !strings.HasPrefix(channel, "-") {
		channel = "@" + channel
	}
	return &Notifier{api: api, channelID: channel}, nil
}

// SendRunSummary posts the run outcome, with the category chart attached
// when provided.
func (n *Notifier) SendRunSummary(summary pipeline.Summary, counts map[string]int, chartPNG *bytes.Buffer) error {
	text := formatSummary(summary, counts)
	chatID, channelUsername := n.target()
	if chartPNG != nil {
		file := tgbotapi.FileBytes{Name: "categories.png", Bytes: chartPNG.Bytes()}
		var photo tgbotapi.PhotoConfig
		if channelUsername != "" {
			photo = tgbotapi.NewPhotoToChannel(channelUsername, file)
		} else {
			photo = tgbotapi.NewPhoto(chatID, file)
		}
		photo.Caption = text
		photo.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.api.Send(photo); err != nil {
			return fmt.Errorf("failed to send summary photo: %w", err)
		}
		return nil
	}
	var message tgbotapi.MessageConfig
	if channelUsername != "" {
		message = tgbotapi.NewMessageToChannel(channelUsername, text)
	} else {
		message = tgbotapi.NewMessage(chatID, text)
	}
	message.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(message); err != nil {
		return fmt.Errorf("failed to send summary message: %w", err)
	}
	return nil
}

// target resolves the configured channel to either a numeric chat ID or a
// channel username.
func (n *Notifier) target() (int64, string) {
	if strings.HasPrefix(n.channelID, "-") {
		if id, err := strconv.ParseInt(n.channelID, 10, 64); err == nil {
			return id, ""
		}
	}
	return 0, n.channelID
}

func formatSummary(summary pipeline.Summary, counts map[string]int) string {
	var builder strings.Builder
	builder.WriteString("*ASN Classification Run*\n\n")
	fmt.Fprintf(&builder, "Classified: %d of %d pending\n", summary.Classified, summary.TotalPending)
	fmt.Fprintf(&builder, "Approx tokens sent: %d\n", summary.ApproxTokens)
	fmt.Fprintf(&builder, "Duration: %s\n", summary.Finished.Sub(summary.Started).Round(time.Second))
	if len(counts) > 0 {
		builder.WriteString("\n*Totals by category*\n")
		for _, category := range classify.Categories() {
			if count := counts[category]; count > 0 {
				fmt.Fprintf(&builder, "%s: %d\n", category, count)
			}
		}
	}
	fmt.Fprintf(&builder, "\nOutput: `%s`", summary.OutputPath)
	return builder.String()
}
