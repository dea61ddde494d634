package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const legacyBill = `<?xml version="1.0"?>
<bill bill-stage="Introduced-in-House">
  <metadata>
    <dublinCore xmlns:dc="http://purl.org/dc/elements/1.1/">
      <dc:title>117 HR 21 IH: Example Act</dc:title>
      <dc:date>2021-01-04</dc:date>
    </dublinCore>
  </metadata>
  <form>
    <congress>117th CONGRESS</congress>
    <session>1st Session</session>
    <legis-num>H. R. 21</legis-num>
  </form>
  <legis-body>
    <section id="H1"><enum>1.</enum><header>Short title</header>
      <text>This Act may be cited as the Example Act.</text>
    </section>
    <section id="H2" status="withdrawn"><enum>2.</enum><header>Withdrawn part</header>
      <text>Stricken.</text>
    </section>
    <section id="H3"><enum>3.</enum><header>Definitions</header>
      <subsection><enum>(a)</enum>
        <section id="H3x"><enum>(x)</enum><header>Nested piece</header></section>
      </subsection>
    </section>
  </legis-body>
</bill>`

const uslmBill = `<?xml version="1.0"?>
<bill xmlns="http://xml.house.gov/schemas/uslm/1.0"
      xmlns:dc="http://purl.org/dc/elements/1.1/">
  <meta>
    <dc:title>BILLS-117s50is</dc:title>
    <dc:date>2021-02-15</dc:date>
    <docNumber>50</docNumber>
    <congress>117</congress>
    <session>1</session>
  </meta>
  <main>
    <section id="id-s1"><num>1.</num><heading>Short title</heading>
      <content>This Act may be cited as the Sample Act.</content>
    </section>
    <section id="id-s2"><num>2.</num><heading>Findings</heading>
      <subsection><num>(a)</num><content>Congress finds the following.</content></subsection>
    </section>
  </main>
</bill>`

func TestParseLegacy(t *testing.T) {
	bill, err := Parse([]byte(legacyBill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if bill.Schema != SchemaLegacy {
		t.Errorf("expected legacy schema, got %v", bill.Schema)
	}
	if bill.Congress != "117" {
		t.Errorf("congress = %q, want 117", bill.Congress)
	}
	if bill.Session != "1" {
		t.Errorf("session = %q, want 1", bill.Session)
	}
	if bill.LegisNum != "H. R. 21" {
		t.Errorf("legisnum = %q", bill.LegisNum)
	}
	if bill.Title != "117 HR 21 IH: Example Act" {
		t.Errorf("title = %q", bill.Title)
	}
	if bill.Date != "2021-01-04" {
		t.Errorf("date = %q", bill.Date)
	}
	if bill.Length == 0 {
		t.Error("bill length should be nonzero")
	}

	// Top-level, non-withdrawn sections only: H1 and H3.
	if len(bill.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(bill.Sections))
	}
	s1 := bill.Sections[0]
	if s1.IDAttr != "H1" || s1.Label != "1." || s1.Header != "Short title" {
		t.Errorf("section 1 = %+v", s1)
	}
	if !strings.Contains(s1.Text, "Example Act") {
		t.Errorf("section 1 text missing body: %q", s1.Text)
	}
	if !strings.HasPrefix(s1.XML, `<section id="H1">`) || !strings.HasSuffix(s1.XML, "</section>") {
		t.Errorf("section 1 raw xml not captured: %q", s1.XML)
	}
	if s1.Length == 0 {
		t.Error("section 1 length should be nonzero")
	}

	s3 := bill.Sections[1]
	if s3.IDAttr != "H3" || s3.Header != "Definitions" {
		t.Errorf("section 2 = %+v", s3)
	}
	// Nested section text folds into the parent.
	if !strings.Contains(s3.Text, "Nested piece") {
		t.Errorf("nested text not folded into parent: %q", s3.Text)
	}
}

func TestParseUSLM(t *testing.T) {
	bill, err := Parse([]byte(uslmBill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if bill.Schema != SchemaUSLM {
		t.Errorf("expected uslm schema, got %v", bill.Schema)
	}
	if bill.Congress != "117" || bill.Session != "1" {
		t.Errorf("congress/session = %q/%q", bill.Congress, bill.Session)
	}
	if bill.LegisNum != "50" {
		t.Errorf("legisnum = %q", bill.LegisNum)
	}
	if bill.Date != "2021-02-15" {
		t.Errorf("date = %q", bill.Date)
	}

	if len(bill.Sections) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(bill.Sections))
	}
	if bill.Sections[0].Label != "1." || bill.Sections[0].Header != "Short title" {
		t.Errorf("section 1 = %+v", bill.Sections[0])
	}
	if bill.Sections[1].IDAttr != "id-s2" {
		t.Errorf("section 2 id = %q", bill.Sections[1].IDAttr)
	}
}

func TestAllHeadersKeepDocumentOrder(t *testing.T) {
	bill, err := Parse([]byte(legacyBill))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"Short title", "Definitions", "Nested piece"}
	if len(bill.AllHeaders) != len(want) {
		t.Fatalf("headers = %v, want %v", bill.AllHeaders, want)
	}
	for i := range want {
		if bill.AllHeaders[i] != want[i] {
			t.Errorf("header[%d] = %q, want %q", i, bill.AllHeaders[i], want[i])
		}
	}
}

func TestParseFileDataJSONFallback(t *testing.T) {
	dir := t.TempDir()
	noDate := strings.Replace(legacyBill, "<dc:date>2021-01-04</dc:date>", "", 1)
	billPath := filepath.Join(dir, "document.xml")
	if err := os.WriteFile(billPath, []byte(noDate), 0644); err != nil {
		t.Fatal(err)
	}
	meta := `{"issued_on": "2021-03-09", "bill_version_id": "117hr21ih"}`
	if err := os.WriteFile(filepath.Join(dir, "data.json"), []byte(meta), 0644); err != nil {
		t.Fatal(err)
	}

	bill, err := ParseFile(billPath)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if bill.Date != "2021-03-09" {
		t.Errorf("date = %q, want issued_on fallback", bill.Date)
	}
}

func TestParseFileErrors(t *testing.T) {
	_, err := ParseFile(filepath.Join(t.TempDir(), "absent.xml"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.xml")
	if err := os.WriteFile(bad, []byte("<bill><section></bill>"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseFile(bad); !errors.As(err, &perr) {
		t.Fatalf("expected ParseError for malformed xml, got %v", err)
	}
}

func TestSectionWithoutIDAttr(t *testing.T) {
	xmlDoc := `<bill><legis-body>
	  <section><enum>1.</enum><header>No id</header><text>body</text></section>
	</legis-body></bill>`
	bill, err := Parse([]byte(xmlDoc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(bill.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(bill.Sections))
	}
	if bill.Sections[0].IDAttr != "" {
		t.Errorf("expected empty id attr, got %q", bill.Sections[0].IDAttr)
	}
}
