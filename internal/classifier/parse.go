package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var (
	codeFence    = regexp.MustCompile("(?m)^```(?:json)?|```$")
	doubledQuote = regexp.MustCompile(`""([^"]+)""`)
)

// ParseVerdict decodes classifier output into a validated Verdict.
//
// Output is accepted as strict JSON or as a permissive literal (single
// quotes, True/False/None, trailing commas), optionally wrapped in markdown
// fences, with doubled quotes around values repaired. Every failure is an
// *UnparseableError carrying the raw text.
func ParseVerdict(text string) (Verdict, error) {
	cleaned := codeFence.ReplaceAllString(strings.TrimSpace(text), "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = doubledQuote.ReplaceAllString(cleaned, `"${1}"`)

	fields, err := decodeObject(cleaned)
	if err != nil {
		return Verdict{}, &UnparseableError{Raw: text, Err: err}
	}
	v, err := verdictFromFields(fields)
	if err != nil {
		return Verdict{}, &UnparseableError{Raw: text, Err: err}
	}
	if err := v.normalize(); err != nil {
		return Verdict{}, &UnparseableError{Raw: text, Err: err}
	}
	return v, nil
}

// decodeObject tries JSON, then the literal form, then both again on the
// outermost brace-delimited span in case the object is wrapped in prose.
func decodeObject(s string) (map[string]any, error) {
	fields, err := decodeEither(s)
	if err == nil {
		return fields, nil
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start && (start > 0 || end < len(s)-1) {
		if inner, innerErr := decodeEither(s[start : end+1]); innerErr == nil {
			return inner, nil
		}
	}
	return nil, err
}

func decodeEither(s string) (map[string]any, error) {
	var fields map[string]any
	jsonErr := json.Unmarshal([]byte(s), &fields)
	if jsonErr == nil && fields != nil {
		return fields, nil
	}
	val, litErr := parseLiteral(s)
	if litErr != nil {
		return nil, fmt.Errorf("not json (%v) nor a literal (%w)", jsonErr, litErr)
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("classifier output is %T, not an object", val)
	}
	return obj, nil
}

func verdictFromFields(raw map[string]any) (Verdict, error) {
	f := make(map[string]any, len(raw))
	for k, v := range raw {
		f[strings.ToLower(strings.TrimSpace(k))] = v
	}

	var (
		v   Verdict
		err error
	)
	v.MessageID = stringField(f, "message_id", "messageid", "id")
	v.Query = stringField(f, "query")
	if v.Escalate, err = boolField(f, "escalate"); err != nil {
		return v, err
	}
	v.Priority = Priority(stringField(f, "priority"))
	v.EscalationReason = stringField(f, "escalation_reason")
	v.Response = stringField(f, "response")
	v.Subject = stringField(f, "subject")
	v.ToEmail = strings.TrimSpace(stringField(f, "to_email"))
	if v.ReplyTo, err = boolField(f, "reply_to"); err != nil {
		return v, err
	}
	return v, nil
}

func stringField(f map[string]any, keys ...string) string {
	for _, k := range keys {
		switch x := f[k].(type) {
		case nil:
			continue
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			return fmt.Sprint(x)
		}
	}
	return ""
}

func boolField(f map[string]any, key string) (bool, error) {
	switch x := f[key].(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s is not a boolean: %v", ErrInvalidVerdict, key, f[key])
}
