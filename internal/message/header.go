package message

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	// DateLayout is the provider's Date header format.
	DateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"
	// TimestampLayout is the fixed microsecond format used downstream.
	TimestampLayout = "2006-01-02 15:04:05.000000"
)

var angleAddress = regexp.MustCompile(`<(.*?)>`)

// ParseSender returns the address inside the first angle brackets of a From
// header, or the raw value when there are none.
func ParseSender(from string) string {
	if m := angleAddress.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return from
}

// ParseDate parses a Date header in DateLayout.
func ParseDate(value string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(value))
}

// FormatTimestamp renders t in TimestampLayout, keeping its offset.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// HTMLToText renders an HTML body as plain text. It is used only when a
// message carries no text/plain part.
func HTMLToText(body string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("head, script, style").Remove()
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithNodes(newline())
	})
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendNodes(newline())
	})
	return doc.Text()
}

func newline() *html.Node {
	return &html.Node{Type: html.TextNode, Data: "\n"}
}
