// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sweep

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/bureau-foundation/erasure/lib/idempotency"
	"github.com/bureau-foundation/erasure/lib/schema"
)

// phoneSuffixDigits is how many trailing phone digits count as a
// match on their own. Listings often mask the prefix.
const phoneSuffixDigits = 6

var (
	whitespace = regexp.MustCompile(`\s+`)

	// numberRun is one phone-like stretch of text: digits with the
	// separators people write between them.
	numberRun = regexp.MustCompile(`\+?\d[\d\s().\-]*`)
)

// page is an HTML document reduced to lowercase, entity-decoded
// strings the subject's identifiers are searched in.
type page struct {
	// visible is the rendered text with element boundaries as spaces.
	visible string
	// nodes holds each visible text node on its own.
	nodes []string
	// hidden holds every attribute value, comment and script body.
	hidden []string
}

// words returns the strings searched for names and addresses.
func (p page) words() []string {
	return append([]string{p.visible}, p.hidden...)
}

// numbers returns the strings searched for phone runs. Text nodes stay
// apart so digits from neighbouring elements never join.
func (p page) numbers() []string {
	return append(append([]string(nil), p.nodes...), p.hidden...)
}

// parsePage tokenizes document. Style sheets are skipped. A malformed
// document is searched as far as it could be read.
func parsePage(document []byte) page {
	tokenizer := html.NewTokenizer(bytes.NewReader(document))
	var (
		result   page
		visible  strings.Builder
		inStyle  bool
		inScript bool
	)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			result.visible = normalize(visible.String())
			return result

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := tokenizer.TagName()
			switch string(name) {
			case "style":
				inStyle = true
			case "script":
				inScript = true
			}
			visible.WriteByte(' ')
			for hasAttr {
				var value []byte
				_, value, hasAttr = tokenizer.TagAttr()
				if len(value) > 0 {
					result.hidden = append(result.hidden, normalize(string(value)))
				}
			}

		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "style":
				inStyle = false
			case "script":
				inScript = false
			}
			visible.WriteByte(' ')

		case html.TextToken:
			text := string(tokenizer.Text())
			switch {
			case inStyle:
			case inScript:
				result.hidden = append(result.hidden, normalize(text))
			default:
				visible.WriteString(text)
				result.nodes = append(result.nodes, normalize(text))
			}

		case html.CommentToken:
			result.hidden = append(result.hidden, normalize(string(tokenizer.Text())))
		}
	}
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(text, " ")))
}

func containsAny(segments []string, needle string) bool {
	for _, segment := range segments {
		if strings.Contains(segment, needle) {
			return true
		}
	}
	return false
}

// matchPhone compares phone against each number-like run separately,
// so digits from unrelated numbers never combine into a match.
func matchPhone(segments []string, phone string) string {
	suffix := phone[len(phone)-phoneSuffixDigits:]
	found := ""
	for _, segment := range segments {
		for _, run := range numberRun.FindAllString(segment, -1) {
			digits := idempotency.PhoneDigits(run)
			switch {
			case strings.Contains(digits, phone):
				return "phone"
			case strings.Contains(digits, suffix):
				found = "phone_suffix"
			}
		}
	}
	return found
}

// matchSubject reports which of the subject's identifiers appear on
// the page. The match is case-insensitive; phones match on their full
// digits or their last six.
func matchSubject(document []byte, subject schema.Subject) []string {
	parsed := parsePage(document)
	words := parsed.words()
	var matched []string

	if email := strings.ToLower(strings.TrimSpace(subject.Email)); email != "" && containsAny(words, email) {
		matched = append(matched, "email")
	}
	if phone := idempotency.PhoneDigits(subject.Phone); len(phone) >= phoneSuffixDigits {
		if kind := matchPhone(parsed.numbers(), phone); kind != "" {
			matched = append(matched, kind)
		}
	}
	if name := strings.Join(strings.Fields(strings.ToLower(subject.Name)), " "); name != "" && containsAny(words, name) {
		matched = append(matched, "name")
	}
	if handle := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(subject.Handle)), "@"); handle != "" && containsAny(words, handle) {
		matched = append(matched, "handle")
	}
	return matched
}
