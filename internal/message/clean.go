package message

import (
	"regexp"
	"strings"
)

var (
	markupSpan     = regexp.MustCompile(`<\s*[^>]*>`)
	blockquoteLine = regexp.MustCompile(`^>+`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)

	// Lines that open a previous message in a reply thread.
	quoteHeaders = []*regexp.Regexp{
		regexp.MustCompile(`^On .* wrote:$`),
		regexp.MustCompile(`^From: .*`),
		regexp.MustCompile(`^Sent: .*`),
		regexp.MustCompile(`^To: .*`),
		regexp.MustCompile(`^Subject: .*`),
		regexp.MustCompile(`^---+`),
	}
)

func isQuoteHeader(line string) bool {
	for _, re := range quoteHeaders {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

type lineState int

const (
	stateNormal lineState = iota
	stateSkipping
)

// quoteFilter classifies body lines while tracking whether the scan is
// inside a quoted block.
type quoteFilter struct {
	state lineState
}

// keep reports whether line survives, advancing the state.
// Quote headers are always dropped and enter SKIPPING; in SKIPPING,
// blockquote lines are dropped and the first other non-empty line
// returns to NORMAL.
func (f *quoteFilter) keep(line string) bool {
	if isQuoteHeader(line) {
		f.state = stateSkipping
		return false
	}
	if f.state == stateSkipping {
		if blockquoteLine.MatchString(line) {
			return false
		}
		if line != "" {
			f.state = stateNormal
		}
	}
	return true
}

// Clean turns a raw decoded body into display-ready text: newlines are
// normalized, markup spans removed, quoted thread blocks dropped and runs of
// blank lines collapsed. Clean is idempotent.
func Clean(text string) string {
	text = NormalizeNewlines(text)
	text = markupSpan.ReplaceAllString(text, "")

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	var f quoteFilter
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if f.keep(line) {
			kept = append(kept, line)
		}
	}

	out := strings.Join(kept, "\n")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
