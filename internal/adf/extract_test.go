package adf

import "testing"

func strVal(t *testing.T, got *string) string {
	t.Helper()
	if got == nil {
		t.Fatal("expected a value, got nil")
	}
	return *got
}

func TestTextPlainContent(t *testing.T) {
	if got := strVal(t, Text(`<name><first>John</first></name>`, "first")); got != "John" {
		t.Fatalf("got %q", got)
	}
}

func TestTextCDATAContent(t *testing.T) {
	if got := strVal(t, Text(`<email><![CDATA[john@example.com]]></email>`, "email")); got != "john@example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestTextCaseInsensitive(t *testing.T) {
	if got := strVal(t, Text(`<EMAIL>a@b.com</EMAIL>`, "email")); got != "a@b.com" {
		t.Fatalf("got %q", got)
	}
}

func TestTextTrimsWhitespace(t *testing.T) {
	if got := strVal(t, Text("<city>\n  Des Moines\n</city>", "city")); got != "Des Moines" {
		t.Fatalf("got %q", got)
	}
}

func TestTextSpansNewlines(t *testing.T) {
	fragment := "<comments>line one\nline two</comments>"
	if got := strVal(t, Text(fragment, "comments")); got != "line one\nline two" {
		t.Fatalf("got %q", got)
	}
}

func TestTextAbsentTagIsNil(t *testing.T) {
	if got := Text(`<name>John</name>`, "email"); got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
}

func TestTextEmptyTagIsNil(t *testing.T) {
	if got := Text(`<email></email>`, "email"); got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
	if got := Text(`<email><![CDATA[]]></email>`, "email"); got != nil {
		t.Fatalf("expected nil for empty CDATA, got %q", *got)
	}
}

func TestTextAttrQualified(t *testing.T) {
	fragment := `<id sequence="1" source="LeadId">ABC-123</id><id source="sdSessionId">sess-9</id>`
	if got := strVal(t, TextAttr(fragment, "id", "source", "LeadId")); got != "ABC-123" {
		t.Fatalf("got %q", got)
	}
	if got := strVal(t, TextAttr(fragment, "id", "source", "sdSessionId")); got != "sess-9" {
		t.Fatalf("got %q", got)
	}
}

func TestTextAttrNoMatchIsNil(t *testing.T) {
	fragment := `<id source="LeadId">ABC-123</id>`
	if got := TextAttr(fragment, "id", "source", "FormType"); got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
}

func TestTextAttrSingleQuotes(t *testing.T) {
	if got := strVal(t, TextAttr(`<id source='LeadId'>X1</id>`, "id", "source", "LeadId")); got != "X1" {
		t.Fatalf("got %q", got)
	}
}

func TestBlockScopesSubDocument(t *testing.T) {
	fragment := `<vehicle interest="buy"><make>Honda</make></vehicle><vehicle interest="trade-in"><make>Ford</make></vehicle>`
	buy := Block(fragment, "vehicle", "interest", "buy")
	if buy == nil {
		t.Fatal("expected buy block")
	}
	if got := strVal(t, Text(*buy, "make")); got != "Honda" {
		t.Fatalf("got %q", got)
	}
	trade := Block(fragment, "vehicle", "interest", "trade-in")
	if trade == nil {
		t.Fatal("expected trade-in block")
	}
	if got := strVal(t, Text(*trade, "make")); got != "Ford" {
		t.Fatalf("got %q", got)
	}
}

func TestTagAttrReadsAttribute(t *testing.T) {
	fragment := `<vehicle interest="buy" status="used"><make>Honda</make></vehicle>`
	if got := strVal(t, TagAttr(fragment, "vehicle", "interest", "buy", "status")); got != "used" {
		t.Fatalf("got %q", got)
	}
}

func TestTagAttrAbsentAttributeIsNil(t *testing.T) {
	fragment := `<vehicle interest="buy"><make>Honda</make></vehicle>`
	if got := TagAttr(fragment, "vehicle", "interest", "buy", "status"); got != nil {
		t.Fatalf("expected nil, got %q", *got)
	}
}

func TestExtractionIsPure(t *testing.T) {
	fragment := `<email>a@b.com</email>`
	first := strVal(t, Text(fragment, "email"))
	second := strVal(t, Text(fragment, "email"))
	if first != second {
		t.Fatalf("repeated extraction diverged: %q vs %q", first, second)
	}
}

func TestNumberStripsCurrencyFormatting(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"$1,234.56", 1234.56},
		{"USD 300", 300},
		{"450.00", 450},
		{"-50", -50},
	}
	for _, tc := range cases {
		got := Number(&tc.in)
		if got == nil || *got != tc.want {
			t.Fatalf("Number(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNumberUnparsableIsNil(t *testing.T) {
	for _, in := range []string{"", "N/A", "call us", "1.2.3"} {
		in := in
		if got := Number(&in); got != nil {
			t.Fatalf("Number(%q) = %v, want nil", in, *got)
		}
	}
	if got := Number(nil); got != nil {
		t.Fatal("Number(nil) should be nil")
	}
}

func TestIntParsesFormattedValues(t *testing.T) {
	in := "45,000"
	got := Int(&in)
	if got == nil || *got != 45000 {
		t.Fatalf("Int(%q) = %v, want 45000", in, got)
	}
}

func TestIntUnparsableIsNil(t *testing.T) {
	in := "unknown"
	if got := Int(&in); got != nil {
		t.Fatalf("expected nil, got %d", *got)
	}
	if got := Int(nil); got != nil {
		t.Fatal("Int(nil) should be nil")
	}
}
