package classifier

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tracyhatemice/mailtriage/internal/attachment"
	"github.com/tracyhatemice/mailtriage/internal/message"
)

// maxExcerpt bounds how much of a text attachment is inlined in the prompt.
const maxExcerpt = 4096

// DefaultInstructions is the system prompt used when no instructions file
// is configured.
const DefaultInstructions = `You are an escalation triage assistant for a client support mailbox.
You read one client email at a time and answer with a single JSON object and nothing else.

Escalate when the email shows any of:
- negative sentiment, dissatisfaction or a complaint about the service
- a problem, disruption or error that affects usage
- a technical question that needs product or configuration guidance
Treat is_important: True as a reason to raise the priority.

Priority (only when escalating):
- "high": a problem that impacts usage or business
- "medium": guidance requested without an active problem
- "low": anything else

Response rules:
- Apply personality_settings when present (tone, greeting, formality, language style).
- Never ask for personal details.
- Do not promise refunds, SLAs or policies; keep commitments neutral.
- For errors and questions prefer phrasing like "You might try..." or "This could help...".
- If attachment_data is present, briefly acknowledge the attachments in the response.
- If Body is empty but attachments exist, assume the query is about the attachments.

reply_to:
- true when the response refers to the client's email, when the body is empty and only
  attachments were sent, or for short acknowledgements such as "Thanks for the quick help!"
- false only when the response stands on its own without referencing the client's email.

Output fields:
- "Message_ID": the Message_ID of the input
- "query": the client's request, as a short quote of the body
- "escalate": true or false
- "priority": "high" | "medium" | "low" when escalate is true, otherwise ""
- "escalation_reason": one factual sentence when escalate is true, otherwise ""
- "response": a concise, action-oriented reply to the client
- "subject": "Re: " followed by the original subject
- "to_email": the client's address from the From field
- "reply_to": true or false`

// Personality is the assistant's configured voice.
type Personality struct {
	AssistantName     string `json:"assistant_name,omitempty" db:"assistant_name"`
	CommunicationTone string `json:"communication_tone,omitempty" db:"communication_tone"`
	DefaultGreeting   string `json:"default_greeting,omitempty" db:"default_greeting"`
	FollowupMessage   string `json:"followup_message,omitempty" db:"followup_message"`
	FormalityLevel    string `json:"formality_level,omitempty" db:"formality_level"`
	LanguageStyle     string `json:"language_style,omitempty" db:"language_style"`
}

// IsZero reports whether no setting is configured.
func (p Personality) IsZero() bool {
	return p == Personality{}
}

func titleBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

type promptAttachment struct {
	attachment.Material
	Excerpt string `json:"excerpt,omitempty"`
}

// RenderMessage formats a message and its materials as the classifier's
// user prompt.
func RenderMessage(msg *message.Message, materials []attachment.Material, personality *Personality) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message_ID: %s\n", msg.ID)
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Body: \n\"\"\"%s\"\"\"\n", msg.Body)
	fmt.Fprintf(&b, "is_important: %s\n", titleBool(msg.IsImportant))
	fmt.Fprintf(&b, "Date: %s\n", msg.Date())

	atts := make([]promptAttachment, 0, len(materials))
	for _, m := range materials {
		atts = append(atts, promptAttachment{Material: m, Excerpt: excerpt(m)})
	}
	data, _ := json.Marshal(atts)
	fmt.Fprintf(&b, "attachment_data: \n\"\"\"%s\"\"\"\n", data)

	if personality != nil && !personality.IsZero() {
		ps, _ := json.Marshal(personality)
		fmt.Fprintf(&b, "personality_settings: %s\n", ps)
	}
	return b.String()
}

// excerpt returns the leading text of a text/* attachment.
func excerpt(m attachment.Material) string {
	if !strings.HasPrefix(strings.ToLower(m.MimeType), "text/") {
		return ""
	}
	f, err := os.Open(m.Path)
	if err != nil {
		return ""
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxExcerpt))
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(data), "")
}
