package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService sends admin notifications to Telegram.
type TelegramService struct {
	botToken    string
	adminChatID string
	baseURL     string
	http        *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     telegramAPIBase,
		http:        httpClient,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends an HTML message to the given chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		return nil
	}

	body, err := json.Marshal(telegramMessage{ChatID: chatID, Text: text, ParseMode: "HTML"})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// PaidOrder summarises an orders/paid webhook.
type PaidOrder struct {
	Name           string
	Email          string
	Total          string
	Currency       string
	PointsCredited int64
}

// NotifyOrderPaid announces a paid order and the points it earned.
func (s *TelegramService) NotifyOrderPaid(ctx context.Context, order PaidOrder) error {
	message := fmt.Sprintf(`<b>Order paid</b>
<b>Order:</b> %s
<b>Customer:</b> %s
<b>Total:</b> %s %s
<b>Points credited:</b> %d`,
		html.EscapeString(order.Name),
		html.EscapeString(order.Email),
		html.EscapeString(order.Total),
		html.EscapeString(order.Currency),
		order.PointsCredited,
	)
	return s.SendToAdmin(ctx, message)
}

// NotifyBatchResult reports the outcome of an admin batch update.
func (s *TelegramService) NotifyBatchResult(ctx context.Context, screen string, total, failed int) error {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Admin %s update</b>\n", html.EscapeString(screen))
	fmt.Fprintf(&b, "Applied: %d of %d", total-failed, total)
	if failed > 0 {
		fmt.Fprintf(&b, "\nFailed: %d", failed)
	}
	return s.SendToAdmin(ctx, b.String())
}
