package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/port"
)

// ErrUnknownRecipient is returned when a recipient has no Lark address
var ErrUnknownRecipient = errors.New("unknown notification recipient")

// messageSender is the part of SDKClient the messenger needs
type messageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// Messenger implements port.Notifier by sending Lark interactive cards
type Messenger struct {
	sender       messageSender
	recipients   map[string]string
	maxRetries   uint64
	initialRetry time.Duration
	logger       *zap.Logger
}

// NewMessenger creates a new Lark notifier
func NewMessenger(sender messageSender, cfg Config, logger *zap.Logger) *Messenger {
	initial := 500 * time.Millisecond
	if cfg.RetryBackoff != "" {
		if d, err := time.ParseDuration(cfg.RetryBackoff); err == nil && d > 0 {
			initial = d
		}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &Messenger{
		sender:       sender,
		recipients:   cfg.Recipients,
		maxRetries:   maxRetries,
		initialRetry: initial,
		logger:       logger,
	}
}

// SendNotification delivers n as an interactive card, retrying transient failures
func (m *Messenger) SendNotification(ctx context.Context, n port.Notification) error {
	receiveIDType, receiveID, err := m.resolve(n.Recipient)
	if err != nil {
		return err
	}

	card, err := json.Marshal(buildCard(n))
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		_, err := m.sender.SendMessage(ctx, receiveIDType, receiveID, "interactive", string(card))
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !retryableCode(apiErr.Code) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.initialRetry
	policy.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		m.logger.Warn("Lark send failed, retrying",
			zap.String("authorization_id", n.AuthorizationID),
			zap.String("recipient", n.Recipient),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	err = backoff.RetryNotify(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, m.maxRetries), ctx),
		notify)
	if err != nil {
		return fmt.Errorf("failed to send notification after %d attempts: %w", attempt, err)
	}

	m.logger.Info("Notification sent via Lark",
		zap.String("authorization_id", n.AuthorizationID),
		zap.String("recipient", n.Recipient),
		zap.String("template", n.Template))
	return nil
}

// resolve maps a workflow recipient to a Lark receive id type and id.
// Configured aliases win; raw open ids and emails pass through.
func (m *Messenger) resolve(recipient string) (string, string, error) {
	if addr, ok := m.recipients[recipient]; ok {
		recipient = addr
	}

	switch {
	case strings.HasPrefix(recipient, "ou_"):
		return "open_id", recipient, nil
	case strings.Contains(recipient, "@"):
		return "email", recipient, nil
	case strings.HasPrefix(recipient, "oc_"):
		return "chat_id", recipient, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownRecipient, recipient)
}

// retryableCode reports whether an open platform error code is worth retrying.
// 99991400 is the rate limit; 5xx-style internal errors use the 1000xxxx range.
func retryableCode(code int) bool {
	return code == 99991400 || code == 99991663 || (code >= 10000000 && code < 11000000)
}

func buildCard(n port.Notification) map[string]interface{} {
	title := n.Title
	if title == "" {
		title = strings.ReplaceAll(n.Template, "_", " ")
	}

	elements := []interface{}{}
	if n.Message != "" {
		elements = append(elements, markdown(n.Message))
	}

	if len(n.Data) > 0 {
		keys := make([]string, 0, len(n.Data))
		for k := range n.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("**%s**: %s", k, cast.ToString(n.Data[k])))
		}
		elements = append(elements, markdown(strings.Join(lines, "\n")))
	}

	if n.AuthorizationID != "" {
		elements = append(elements, map[string]interface{}{
			"tag": "note",
			"elements": []interface{}{
				map[string]interface{}{"tag": "plain_text", "content": "Authorization " + n.AuthorizationID},
			},
		})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"title":    map[string]interface{}{"tag": "plain_text", "content": title},
			"template": headerColor(n.Template),
		},
		"elements": elements,
	}
}

func markdown(content string) map[string]interface{} {
	return map[string]interface{}{"tag": "div", "text": map[string]interface{}{"tag": "lark_md", "content": content}}
}

func headerColor(template string) string {
	switch {
	case strings.Contains(template, "approved"):
		return "green"
	case strings.Contains(template, "rejected"), strings.Contains(template, "expired"), strings.Contains(template, "cancel"):
		return "red"
	case strings.Contains(template, "escalat"), strings.Contains(template, "timeout"):
		return "orange"
	}
	return "blue"
}

var _ port.Notifier = (*Messenger)(nil)
