package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const telegramAPIBaseURL = "https://api.telegram.org"

// TelegramBot 通过 Bot API sendMessage 向固定会话发送文本
type TelegramBot struct {
	token  string
	chatID int64

	BaseURL string
	Client  *http.Client
}

func NewTelegramBot(token string, chatID int64, timeout time.Duration) *TelegramBot {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TelegramBot{
		token:  token,
		chatID: chatID,
		Client: &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (b *TelegramBot) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{ChatID: b.chatID, Text: text})
	if err != nil {
		return err
	}

	base := b.BaseURL
	if base == "" {
		base = telegramAPIBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/bot%s/sendMessage", base, b.token), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.Client.Do(req)
	if err != nil {
		// 错误信息里可能带有包含 token 的 URL，这里不向上透出
		return fmt.Errorf("telegram sendMessage to %d: request failed", b.chatID)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("telegram sendMessage: read body: %w", err)
	}

	var out botResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("telegram sendMessage: status %d: decode: %w", resp.StatusCode, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram sendMessage: %d %s", out.ErrorCode, out.Description)
	}
	return nil
}
