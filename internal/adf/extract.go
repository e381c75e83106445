// Package adf parses Auto-lead Data Format (ADF/XML) lead documents out of
// raw email bodies. Extraction is best-effort and tolerant: the documents
// arrive HTML-escaped, MIME-wrapped, CDATA-wrapped, or any mix of the three,
// and absent or malformed fields are reported as nil rather than errors.
package adf

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// patternCache holds compiled extraction patterns keyed by expression.
// Extraction functions are pure; the cache only avoids recompiling the same
// pattern on every call.
var patternCache sync.Map

func compile(expr string) *regexp.Regexp {
	if cached, ok := patternCache.Load(expr); ok {
		return cached.(*regexp.Regexp)
	}
	re := regexp.MustCompile(expr)
	patternCache.Store(expr, re)
	return re
}

// contentExpr matches a tag's inner text whether it is CDATA-wrapped or
// plain. Group 1 captures CDATA content, group 2 plain content.
const contentExpr = `\s*(?:<!\[CDATA\[(.*?)\]\]>|(.*?))\s*`

// Text returns the inner text of the first <tag> element in the fragment,
// or nil when the tag is absent or empty. Matching is case-insensitive and
// spans newlines.
func Text(fragment, tag string) *string {
	t := regexp.QuoteMeta(tag)
	re := compile(`(?is)<` + t + `(?:\s[^>]*)?>` + contentExpr + `</` + t + `>`)
	return matchContent(re, fragment)
}

// TextAttr returns the inner text of the first <tag> element whose attr
// equals value (case-insensitive), e.g. <id source="LeadId">. Returns nil
// when no such element exists or its content is empty.
func TextAttr(fragment, tag, attr, value string) *string {
	re := compile(qualifiedOpenExpr(tag, attr, value) + contentExpr + `</` + regexp.QuoteMeta(tag) + `>`)
	return matchContent(re, fragment)
}

// Block returns the raw inner markup of the first <tag> element whose attr
// equals value, without CDATA handling. Used to scope extraction to a
// sub-document (e.g. the trade-in vehicle block).
func Block(fragment, tag, attr, value string) *string {
	re := compile(qualifiedOpenExpr(tag, attr, value) + `(.*?)</` + regexp.QuoteMeta(tag) + `>`)
	m := re.FindStringSubmatch(fragment)
	if m == nil {
		return nil
	}
	return &m[1]
}

// TagAttr returns the value of attr on the first <tag> element qualified by
// qattr=qvalue, e.g. the status attribute of <vehicle interest="buy"
// status="used">. Returns nil when the element or the attribute is absent.
func TagAttr(fragment, tag, qattr, qvalue, attr string) *string {
	openRe := compile(qualifiedOpenExpr(tag, qattr, qvalue))
	open := openRe.FindString(fragment)
	if open == "" {
		return nil
	}

	attrRe := compile(`(?i)\b` + regexp.QuoteMeta(attr) + `\s*=\s*["']([^"']*)["']`)
	m := attrRe.FindStringSubmatch(open)
	if m == nil || m[1] == "" {
		return nil
	}
	return &m[1]
}

func qualifiedOpenExpr(tag, attr, value string) string {
	return `(?is)<` + regexp.QuoteMeta(tag) + `\b[^>]*\b` + regexp.QuoteMeta(attr) +
		`\s*=\s*["']` + regexp.QuoteMeta(value) + `["'][^>]*>`
}

func matchContent(re *regexp.Regexp, fragment string) *string {
	m := re.FindStringSubmatchIndex(fragment)
	if m == nil {
		return nil
	}

	// Prefer the CDATA group when it participated in the match.
	for _, g := range []int{1, 2} {
		start, end := m[2*g], m[2*g+1]
		if start < 0 {
			continue
		}
		s := strings.TrimSpace(fragment[start:end])
		if s == "" {
			return nil
		}
		return &s
	}
	return nil
}

var currencyRe = regexp.MustCompile(`[^0-9.\-]`)

// Number parses a currency-formatted value ("$1,234.56", "USD 300") into a
// float. Nil in, nil out; unparsable in, nil out.
func Number(s *string) *float64 {
	if s == nil {
		return nil
	}
	cleaned := currencyRe.ReplaceAllString(*s, "")
	if cleaned == "" {
		return nil
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &f
}

// Int parses an integer field (year, mileage) after stripping formatting
// characters. Nil in, nil out; unparsable in, nil out.
func Int(s *string) *int {
	if s == nil {
		return nil
	}
	cleaned := currencyRe.ReplaceAllString(*s, "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	n := int(f)
	return &n
}
