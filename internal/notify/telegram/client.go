// Package telegram 实现 Telegram Bot 通知渠道与消息格式化。
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"open-interest-monitor/internal/notify"
)

// DefaultBaseURL Telegram Bot API 地址
const DefaultBaseURL = "https://api.telegram.org"

// Config Telegram 配置
type Config struct {
	// Token Bot token
	Token string
	// ChatID 目标会话
	ChatID string
	// TopicID 论坛话题 ID，0 表示不指定
	TopicID int64
	// BaseURL API 地址，为空时使用 DefaultBaseURL
	BaseURL string
	// Timeout 请求超时
	Timeout time.Duration
}

// Client Telegram 通知客户端
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

type sendMessageRequest struct {
	ChatID          string `json:"chat_id"`
	Text            string `json:"text"`
	ParseMode       string `json:"parse_mode"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// New 创建 Telegram 客户端
// token 或 chat 为空时客户端处于禁用状态，Send 返回 notify.ErrDisabled。
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("telegram"),
	}
	if !c.Enabled() {
		c.logger.Warn("未配置 Telegram bot token 或 chat id，跳过 Telegram 通知")
	}
	return c
}

// Enabled 是否已配置
func (c *Client) Enabled() bool {
	return c.cfg.Token != "" && c.cfg.ChatID != ""
}

// Send 发送 HTML 格式消息
// HTTP 状态码非 200 或 ok=false 视为失败，不重试。
func (c *Client) Send(ctx context.Context, text string) error {
	if !c.Enabled() {
		return notify.ErrDisabled
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:          c.cfg.ChatID,
		Text:            text,
		ParseMode:       "HTML",
		MessageThreadID: c.cfg.TopicID,
	})
	if err != nil {
		return fmt.Errorf("编码 Telegram 请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.cfg.BaseURL, c.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "open-interest-monitor/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 Telegram 消息失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("读取 Telegram 响应失败: %w", err)
	}

	var ar apiResponse
	_ = json.Unmarshal(raw, &ar)
	if resp.StatusCode != http.StatusOK || !ar.OK {
		return fmt.Errorf("Telegram API 错误: status=%d code=%d desc=%s", resp.StatusCode, ar.ErrorCode, ar.Description)
	}

	c.logger.Debug("Telegram 消息已发送", zap.Int("len", len(text)))
	return nil
}
