// Package notify delivers out-of-band messages (verification and reset
// codes) to users. The auth core only hands over the message; delivery
// receipts are never awaited.
package notify

import (
	"context"
	"errors"
	"sort"

	"github.com/dmitrijs2005/storeauth/internal/logging"
)

// Templates the auth core sends.
const (
	TemplateEmailVerification = "email_verification"
	TemplatePasswordReset     = "password_reset"
)

var ErrNoRecipient = errors.New("message has no recipient")

// Message is a templated notification. Data values may be secrets.
type Message struct {
	Recipient string
	Template  string
	Data      map[string]string
}

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of delivering them. Data
// values are never logged, only their keys.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(l logging.Logger) *LogNotifier {
	return &LogNotifier{logger: l.With("module", "notifier")}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	keys := make([]string, 0, len(msg.Data))
	for k := range msg.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	n.logger.Info(ctx, "notification queued", "recipient", msg.Recipient, "template", msg.Template, "fields", keys)
	return nil
}
