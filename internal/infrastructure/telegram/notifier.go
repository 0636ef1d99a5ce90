package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"MicrowireQC/internal/config"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier posts pending-review alerts to a Telegram chat via bot API.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(cfg config.TelegramConfig) *Notifier {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	return &Notifier{
		apiBase:  base,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Configured reports whether both the token and the chat are set.
func (n *Notifier) Configured() bool {
	return n.botToken != "" && n.chatID != ""
}

// NotifyPendingReview tells operators a batch waits for a human verdict.
func (n *Notifier) NotifyPendingReview(ctx context.Context, record domain.MeasurementRecord) error {
	if !n.Configured() || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", pendingReviewText(record))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}

func pendingReviewText(record domain.MeasurementRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s needs review\n", record.BatchNumber)
	if code := record.Scenario(); code != "" {
		fmt.Fprintf(&b, "Scenario: %s\n", code)
	}
	fmt.Fprintf(&b, "Reason: %s\n", record.FinalReason)
	fmt.Fprintf(&b, "Rules: %s", record.RuleVerdict)
	if record.RuleMessage != "" {
		fmt.Fprintf(&b, " (%s)", record.RuleMessage)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Model: %s at %s", record.ModelVerdict, strconv.FormatFloat(record.ModelConfidence, 'f', 2, 64))
	return b.String()
}
