package slack

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goslack "github.com/slack-go/slack"
)

// Header 标题块
func Header(text string) goslack.Block {
	return goslack.NewHeaderBlock(goslack.NewTextBlockObject(goslack.PlainTextType, text, true, false))
}

// Section Markdown 段落
func Section(markdown string) goslack.Block {
	return goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, markdown, false, false), nil, nil)
}

// Fields 两列字段段落，参数按 标签, 值 成对传入
func Fields(pairs ...string) goslack.Block {
	fields := make([]*goslack.TextBlockObject, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*%s:*\n%s", pairs[i], pairs[i+1]), false, false))
	}
	return goslack.NewSectionBlock(nil, fields, nil)
}

// Context 页脚小字
func Context(markdown string) goslack.Block {
	return goslack.NewContextBlock("", goslack.NewTextBlockObject(goslack.MarkdownType, markdown, false, false))
}

func Divider() goslack.Block {
	return goslack.NewDividerBlock()
}

// NewMessage text 作为通知预览；blocks 为空时只发纯文本
func NewMessage(text string, blocks ...goslack.Block) *goslack.WebhookMessage {
	msg := &goslack.WebhookMessage{Text: text}
	if len(blocks) > 0 {
		msg.Blocks = &goslack.Blocks{BlockSet: blocks}
	}
	return msg
}

// Client Slack Incoming Webhook 客户端
type Client struct {
	webhookURL string
	httpClient *http.Client
}

// NewClient webhookURL 为空时 Enabled() 为 false，Post 直接返回
func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.webhookURL != ""
}

// Post 非 200 响应返回 goslack.StatusCodeError
func (c *Client) Post(ctx context.Context, msg *goslack.WebhookMessage) error {
	if !c.Enabled() {
		return nil
	}
	if err := goslack.PostWebhookCustomHTTPContext(ctx, c.webhookURL, c.httpClient, msg); err != nil {
		return fmt.Errorf("发送 Slack 消息失败: %w", err)
	}
	return nil
}
