// Package classifier asks a language model to triage a message and decodes
// its answer into a Verdict.
package classifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracyhatemice/mailtriage/internal/attachment"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

// Completer runs one prompt against a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SettingsSource provides the assistant personality, if any.
type SettingsSource interface {
	PersonalitySettings(ctx context.Context) (Personality, error)
}

// Classifier turns messages into verdicts.
type Classifier struct {
	completer Completer
	settings  SettingsSource
	logger    *slog.Logger
}

// New creates a classifier. settings may be nil.
func New(completer Completer, settings SettingsSource, logger *slog.Logger) *Classifier {
	return &Classifier{completer: completer, settings: settings, logger: logger}
}

// Classify renders msg with its materials, runs the model and returns the
// validated verdict. The verdict always names msg.ID.
func (c *Classifier) Classify(ctx context.Context, msg *message.Message, materials []attachment.Material) (Verdict, error) {
	var personality *Personality
	if c.settings != nil {
		p, err := c.settings.PersonalitySettings(ctx)
		if err != nil {
			c.logger.Warn("personality settings unavailable", "error", err)
		} else if !p.IsZero() {
			personality = &p
		}
	}

	out, err := c.completer.Complete(ctx, RenderMessage(msg, materials, personality))
	if err != nil {
		return Verdict{}, fmt.Errorf("classify %s: %w", msg.ID, err)
	}

	v, err := ParseVerdict(out)
	if err != nil {
		return Verdict{}, err
	}
	if v.MessageID != msg.ID {
		if v.MessageID != "" {
			c.logger.Warn("verdict names a different message, using source id",
				"msg_id", msg.ID, "verdict_msg_id", v.MessageID)
		}
		v.MessageID = msg.ID
	}

	c.logger.Debug("message classified", "msg_id", msg.ID, "escalate", v.Escalate,
		"priority", v.Priority, "reply_to", v.ReplyTo)
	return v, nil
}
