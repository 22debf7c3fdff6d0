package messenger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/samvad-hq/samvad-gallery-mirror/internal/domain"
	"github.com/samvad-hq/samvad-gallery-mirror/internal/logger"
	"github.com/samvad-hq/samvad-gallery-mirror/pkg/httpclient"
)

// notModified is returned by editMessageText when the text is unchanged.
const notModified = "message is not modified"

// Telegram talks to the Bot API over HTTPS.
type Telegram struct {
	base   string
	client *resty.Client
	log    logger.Logger
}

type botResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// NewTelegram builds a Bot API client. apiURL defaults to the public endpoint.
func NewTelegram(apiURL, token string, timeout time.Duration, log logger.Logger) (*Telegram, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Telegram{
		base:   apiURL + "/bot" + token,
		client: httpclient.NewRestyHTTPClient(timeout),
		log:    logger.Ensure(log),
	}, nil
}

// Send posts text to chatID and returns the new message id.
func (t *Telegram) Send(ctx context.Context, chatID, text string) (int64, error) {
	return t.send(ctx, chatID, 0, text)
}

// Reply posts text as a reply to replyTo.
func (t *Telegram) Reply(ctx context.Context, chatID string, replyTo int64, text string) (int64, error) {
	return t.send(ctx, chatID, replyTo, text)
}

// Edit replaces the text of an existing message. Unchanged text is not an error.
func (t *Telegram) Edit(ctx context.Context, chatID string, messageID int64, text string) error {
	_, err := t.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil && strings.Contains(err.Error(), notModified) {
		return nil
	}
	return err
}

func (t *Telegram) send(ctx context.Context, chatID string, replyTo int64, text string) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if replyTo > 0 {
		payload["reply_parameters"] = map[string]any{
			"message_id":                  replyTo,
			"allow_sending_without_reply": true,
		}
	}
	raw, err := t.call(ctx, "sendMessage", payload)
	if err != nil {
		return 0, err
	}
	var msg sentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("decode sendMessage result: %w", err)
	}
	return msg.MessageID, nil
}

func (t *Telegram) call(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	var out botResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&out).
		SetError(&out).
		Post(t.base + "/" + method)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if out.OK {
		return out.Result, nil
	}

	code := resp.StatusCode()
	if out.ErrorCode != 0 {
		code = out.ErrorCode
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		wait := 0
		if out.Parameters != nil {
			wait = out.Parameters.RetryAfter
		}
		t.log.WarnObj("telegram throttled", "telegram_error", map[string]any{
			"method":      method,
			"code":        code,
			"retry_after": wait,
		})
		return nil, fmt.Errorf("%s: %w: %d %s", method, domain.ErrTransient, code, out.Description)
	}
	return nil, fmt.Errorf("%s: status %d: %s", method, code, out.Description)
}
