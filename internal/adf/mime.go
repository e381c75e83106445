package adf

import (
	"regexp"
	"strings"
)

// bodyPartStrategies is the ordered list of MIME content types tried when
// the inbound payload is a raw multipart message. Additional content types
// can be appended without touching the parse path.
var bodyPartStrategies = []string{"text/plain", "text/html"}

var multipartRe = regexp.MustCompile(`(?i)content-type:\s*multipart/`)

// selectBodyPart reduces a raw MIME message to the body of its preferred
// text part. Non-MIME payloads pass through unchanged, as does a multipart
// message with no matching part.
func selectBodyPart(raw string) string {
	if !multipartRe.MatchString(raw) {
		return raw
	}

	for _, contentType := range bodyPartStrategies {
		if part, ok := extractPart(raw, contentType); ok {
			return part
		}
	}
	return raw
}

// extractPart captures the text following the Content-Type header for the
// given type, from the blank line ending the part headers up to the next
// boundary marker or the end of the message.
func extractPart(raw, contentType string) (string, bool) {
	headerRe := compile(`(?i)content-type:\s*` + regexp.QuoteMeta(contentType))
	loc := headerRe.FindStringIndex(raw)
	if loc == nil {
		return "", false
	}
	rest := raw[loc[0]:]

	bodyStart := -1
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := strings.Index(rest, sep); i >= 0 {
			if bodyStart < 0 || i+len(sep) < bodyStart {
				bodyStart = i + len(sep)
			}
		}
	}
	if bodyStart < 0 {
		return "", false
	}

	body := rest[bodyStart:]
	if i := strings.Index(body, "\n--"); i >= 0 {
		body = body[:i]
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", false
	}
	return body, true
}
