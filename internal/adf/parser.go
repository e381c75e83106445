package adf

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/phone"
)

// ErrNoADFDocument is returned when the email body contains no well-formed
// <adf> block. This is terminal: the caller reports it, nothing is retried.
var ErrNoADFDocument = errors.New("no adf document found in email body")

// The lead provider qualifies <id> tags with a source attribute.
const (
	sourceLeadID    = "LeadId"
	sourceSessionID = "sdSessionId"
	sourceFormType  = "FormType"
)

// Vehicle is the primary vehicle of interest in a lead document.
type Vehicle struct {
	Year   *int
	Make   *string
	Model  *string
	VIN    *string
	Stock  *string
	Status *string // new/used, carried as an attribute on the vehicle tag
}

// TradeIn is the customer's trade-in vehicle. All fields are nil when the
// document carries no trade-in block; that is missing data, not an error.
type TradeIn struct {
	Year    *int
	Make    *string
	Model   *string
	VIN     *string
	Value   *float64
	Mileage *int
}

// Lead is the parsed form of one inbound ADF document. It is immutable
// after Parse and carries no attribution fields: those come exclusively
// from the visitor mapping at resolution time.
type Lead struct {
	LeadID      string
	SDSessionID *string
	FormType    *string
	RequestDate time.Time

	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string

	Street   *string
	City     *string
	State    *string
	ZipCode  *string

	Vehicle Vehicle
	TradeIn TradeIn

	MonthlyPayment *float64
	DownPayment    *float64
	TotalAmount    *float64

	// Raw is the matched <adf> block, retained for audit and debugging.
	Raw string
}

var adfBlockRe = regexp.MustCompile(`(?is)<adf\b[^>]*>.*?</adf>`)

// htmlEntities decodes the escape set produced by email gateways that
// HTML-encode the XML payload.
var htmlEntities = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&amp;", "&",
)

// Parse extracts a Lead from a raw email body of unknown shape: plain XML,
// HTML-entity-escaped XML, or a MIME multipart message wrapping either.
// Absent sub-structures yield nil fields; only a missing <adf> block is an
// error.
func Parse(body string) (*Lead, error) {
	content := selectBodyPart(maybeUnescape(body))

	block := adfBlockRe.FindString(content)
	if block == "" {
		return nil, ErrNoADFDocument
	}

	lead := &Lead{
		SDSessionID: TextAttr(block, "id", "source", sourceSessionID),
		FormType:    TextAttr(block, "id", "source", sourceFormType),
		RequestDate: parseRequestDate(Text(block, "requestdate")),
		FirstName:   TextAttr(block, "name", "part", "first"),
		LastName:    TextAttr(block, "name", "part", "last"),
		Email:       Text(block, "email"),
		Phone:       normalizePhone(Text(block, "phone")),
		Street:      Text(block, "street"),
		City:        Text(block, "city"),
		State:       Text(block, "regioncode"),
		ZipCode:     Text(block, "postalcode"),
		Raw:         block,
	}

	if id := TextAttr(block, "id", "source", sourceLeadID); id != nil {
		lead.LeadID = *id
	}

	if buy := Block(block, "vehicle", "interest", "buy"); buy != nil {
		lead.Vehicle = Vehicle{
			Year:   Int(Text(*buy, "year")),
			Make:   Text(*buy, "make"),
			Model:  Text(*buy, "model"),
			VIN:    Text(*buy, "vin"),
			Stock:  Text(*buy, "stock"),
			Status: TagAttr(block, "vehicle", "interest", "buy", "status"),
		}
		lead.MonthlyPayment = Number(TextAttr(*buy, "amount", "type", "monthly"))
		lead.DownPayment = Number(TextAttr(*buy, "amount", "type", "downpayment"))
		lead.TotalAmount = Number(TextAttr(*buy, "amount", "type", "total"))
	}

	if trade := Block(block, "vehicle", "interest", "trade-in"); trade != nil {
		lead.TradeIn = TradeIn{
			Year:    Int(Text(*trade, "year")),
			Make:    Text(*trade, "make"),
			Model:   Text(*trade, "model"),
			VIN:     Text(*trade, "vin"),
			Value:   Number(TextAttr(*trade, "price", "type", "appraisal")),
			Mileage: Int(Text(*trade, "odometer")),
		}
	}

	return lead, nil
}

// maybeUnescape decodes HTML-escaped markup. It only fires when the payload
// carries escaped angle brackets but no literal <adf block, so a plain
// document with literal ampersands inside CDATA is never corrupted.
func maybeUnescape(body string) string {
	if strings.Contains(strings.ToLower(body), "<adf") {
		return body
	}
	if !strings.Contains(body, "&lt;") {
		return body
	}
	return htmlEntities.Replace(body)
}

var requestDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
	"1/2/2006",
}

// parseRequestDate falls back to the current time when the field is missing
// or unparsable; a lead without a usable timestamp is still a lead.
func parseRequestDate(s *string) time.Time {
	if s == nil {
		return time.Now().UTC()
	}
	for _, layout := range requestDateLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

func normalizePhone(s *string) *string {
	if s == nil {
		return nil
	}
	normalized := phone.NormalizeE164(*s)
	return &normalized
}
