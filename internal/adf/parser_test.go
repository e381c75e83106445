package adf

import (
	"strings"
	"testing"
	"time"
)

const sampleADF = `<?xml version="1.0" encoding="UTF-8"?>
<adf>
  <prospect>
    <id source="LeadId">LEAD-42</id>
    <id source="sdSessionId">sess-abc-123</id>
    <id source="FormType">Payment Calculator</id>
    <requestdate>2026-03-15T10:30:00Z</requestdate>
    <vehicle interest="buy" status="used">
      <year>2023</year>
      <make>Honda</make>
      <model>CR-V</model>
      <vin>2HKRW2H85NH123456</vin>
      <stock>H5512</stock>
      <price type="quote">$31,500.00</price>
      <finance>
        <amount type="monthly">$450.00</amount>
        <amount type="downpayment">$3,000</amount>
        <amount type="total">$31,500.00</amount>
      </finance>
    </vehicle>
    <vehicle interest="trade-in">
      <year>2018</year>
      <make>Ford</make>
      <model>Escape</model>
      <vin>1FMCU9GD4JUA12345</vin>
      <odometer>45,000</odometer>
      <price type="appraisal">$12,300</price>
    </vehicle>
    <customer>
      <contact>
        <name part="first"><![CDATA[John]]></name>
        <name part="last"><![CDATA[Smith]]></name>
        <email>john.smith@example.com</email>
        <phone>515-555-0134</phone>
        <address>
          <street>123 Main St</street>
          <city>Des Moines</city>
          <regioncode>IA</regioncode>
          <postalcode>50309</postalcode>
        </address>
      </contact>
    </customer>
  </prospect>
</adf>`

func mustParse(t *testing.T, body string) *Lead {
	t.Helper()
	lead, err := Parse(body)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return lead
}

func TestParseFullDocument(t *testing.T) {
	lead := mustParse(t, sampleADF)

	if lead.LeadID != "LEAD-42" {
		t.Fatalf("LeadID = %q", lead.LeadID)
	}
	if lead.SDSessionID == nil || *lead.SDSessionID != "sess-abc-123" {
		t.Fatalf("SDSessionID = %v", lead.SDSessionID)
	}
	if lead.FormType == nil || *lead.FormType != "Payment Calculator" {
		t.Fatalf("FormType = %v", lead.FormType)
	}

	want := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	if !lead.RequestDate.Equal(want) {
		t.Fatalf("RequestDate = %v, want %v", lead.RequestDate, want)
	}

	if lead.FirstName == nil || *lead.FirstName != "John" {
		t.Fatalf("FirstName = %v", lead.FirstName)
	}
	if lead.LastName == nil || *lead.LastName != "Smith" {
		t.Fatalf("LastName = %v", lead.LastName)
	}
	if lead.Email == nil || *lead.Email != "john.smith@example.com" {
		t.Fatalf("Email = %v", lead.Email)
	}
	if lead.Phone == nil || *lead.Phone != "+15155550134" {
		t.Fatalf("Phone = %v", lead.Phone)
	}
	if lead.City == nil || *lead.City != "Des Moines" {
		t.Fatalf("City = %v", lead.City)
	}
	if lead.State == nil || *lead.State != "IA" {
		t.Fatalf("State = %v", lead.State)
	}
	if lead.ZipCode == nil || *lead.ZipCode != "50309" {
		t.Fatalf("ZipCode = %v", lead.ZipCode)
	}
}

func TestParseBuyVehicle(t *testing.T) {
	lead := mustParse(t, sampleADF)

	if lead.Vehicle.Year == nil || *lead.Vehicle.Year != 2023 {
		t.Fatalf("Vehicle.Year = %v", lead.Vehicle.Year)
	}
	if lead.Vehicle.Make == nil || *lead.Vehicle.Make != "Honda" {
		t.Fatalf("Vehicle.Make = %v", lead.Vehicle.Make)
	}
	if lead.Vehicle.Stock == nil || *lead.Vehicle.Stock != "H5512" {
		t.Fatalf("Vehicle.Stock = %v", lead.Vehicle.Stock)
	}
	if lead.Vehicle.Status == nil || *lead.Vehicle.Status != "used" {
		t.Fatalf("Vehicle.Status = %v", lead.Vehicle.Status)
	}
	if lead.MonthlyPayment == nil || *lead.MonthlyPayment != 450.00 {
		t.Fatalf("MonthlyPayment = %v", lead.MonthlyPayment)
	}
	if lead.DownPayment == nil || *lead.DownPayment != 3000 {
		t.Fatalf("DownPayment = %v", lead.DownPayment)
	}
	if lead.TotalAmount == nil || *lead.TotalAmount != 31500.00 {
		t.Fatalf("TotalAmount = %v", lead.TotalAmount)
	}
}

func TestParseTradeIn(t *testing.T) {
	lead := mustParse(t, sampleADF)

	if lead.TradeIn.Make == nil || *lead.TradeIn.Make != "Ford" {
		t.Fatalf("TradeIn.Make = %v", lead.TradeIn.Make)
	}
	if lead.TradeIn.Value == nil || *lead.TradeIn.Value != 12300 {
		t.Fatalf("TradeIn.Value = %v", lead.TradeIn.Value)
	}
	if lead.TradeIn.Mileage == nil || *lead.TradeIn.Mileage != 45000 {
		t.Fatalf("TradeIn.Mileage = %v", lead.TradeIn.Mileage)
	}
}

func TestParseMissingTradeInAllNil(t *testing.T) {
	body := strings.Replace(sampleADF,
		`<vehicle interest="trade-in">`, `<vehicle interest="other">`, 1)
	lead := mustParse(t, body)

	empty := TradeIn{}
	if lead.TradeIn != empty {
		t.Fatalf("TradeIn = %+v, want all nil", lead.TradeIn)
	}
}

func TestParseHTMLEscapedBody(t *testing.T) {
	escaped := strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(sampleADF)
	lead := mustParse(t, escaped)

	if lead.LeadID != "LEAD-42" {
		t.Fatalf("LeadID = %q", lead.LeadID)
	}
	if lead.SDSessionID == nil || *lead.SDSessionID != "sess-abc-123" {
		t.Fatalf("SDSessionID = %v", lead.SDSessionID)
	}
}

func TestParsePlainBodyNotUnescaped(t *testing.T) {
	// A literal <adf block means the body is already XML; stray entities in
	// the surrounding text must not trigger a second decode.
	body := "Forwarded message &lt;noise&gt;\n" + sampleADF
	lead := mustParse(t, body)
	if lead.LeadID != "LEAD-42" {
		t.Fatalf("LeadID = %q", lead.LeadID)
	}
}

func TestParseMIMEMultipartPrefersPlainText(t *testing.T) {
	body := "Content-Type: multipart/alternative; boundary=\"xyz\"\r\n" +
		"\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body>not the payload</body></html>\r\n" +
		"--xyz\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		sampleADF + "\r\n" +
		"--xyz--\r\n"

	lead := mustParse(t, body)
	if lead.LeadID != "LEAD-42" {
		t.Fatalf("LeadID = %q", lead.LeadID)
	}
}

func TestParseNoADFDocument(t *testing.T) {
	if _, err := Parse("just a regular email, nothing to see"); err != ErrNoADFDocument {
		t.Fatalf("err = %v, want ErrNoADFDocument", err)
	}
}

func TestParseMissingRequestDateDefaultsToNow(t *testing.T) {
	body := strings.Replace(sampleADF,
		"<requestdate>2026-03-15T10:30:00Z</requestdate>", "", 1)
	before := time.Now().UTC().Add(-time.Minute)
	lead := mustParse(t, body)
	if lead.RequestDate.Before(before) {
		t.Fatalf("RequestDate = %v, expected a recent default", lead.RequestDate)
	}
}

func TestParseMissingSessionIDIsNil(t *testing.T) {
	body := strings.Replace(sampleADF,
		`<id source="sdSessionId">sess-abc-123</id>`, "", 1)
	lead := mustParse(t, body)
	if lead.SDSessionID != nil {
		t.Fatalf("SDSessionID = %q, want nil", *lead.SDSessionID)
	}
	if lead.LeadID != "LEAD-42" {
		t.Fatalf("LeadID = %q", lead.LeadID)
	}
}
