// Package parser parses legislative bill XML into a schema-agnostic
// bill entity. Two schema families are supported: the legacy
// non-namespaced DTD family and the namespaced USLM2 family. The
// families differ only in element names; the selection logic is shared.
package parser

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Schema identifies the XML schema family of a bill document.
type Schema int

const (
	SchemaLegacy Schema = iota
	SchemaUSLM
)

func (s Schema) String() string {
	if s == SchemaUSLM {
		return "uslm"
	}
	return "legacy"
}

// dcNamespace is the Dublin Core namespace used by both families.
const dcNamespace = "http://purl.org/dc/elements/1.1/"

// schemaNames holds the per-family element names. Everything else in
// the parser is family-independent.
type schemaNames struct {
	label   string // section enumerator
	heading string // section heading
	legis   string // legislative number
}

var familyNames = map[Schema]schemaNames{
	SchemaLegacy: {label: "enum", heading: "header", legis: "legis-num"},
	SchemaUSLM:   {label: "num", heading: "heading", legis: "docNumber"},
}

// trailingAlpha strips trailing letters and spaces from congress and
// session text ("117th CONGRESS" -> "117").
var trailingAlpha = regexp.MustCompile(`[a-zA-Z ]+$`)

// ParseError wraps failures to read or decode a bill file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse bill %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Section is a top-level, non-withdrawn section of a bill.
type Section struct {
	// IDAttr is the section's XML id attribute. May be empty for
	// malformed inputs; such sections are not persisted.
	IDAttr string
	// Label is the section enumerator, e.g. "2.".
	Label string
	// Header is the section heading text.
	Header string
	// Text is the flattened text content, descendants included.
	Text string
	// XML is the raw serialized section element.
	XML string
	// Length is the rune count of Text.
	Length int
}

// Bill is the parsed bill entity.
type Bill struct {
	Schema   Schema
	Congress string
	Session  string
	LegisNum string
	Title    string
	Date     string
	// Length is the rune count of the whole file.
	Length int
	// Sections are the top-level non-withdrawn sections, in document
	// order.
	Sections []Section
	// AllHeaders lists every heading in the document, in order, with
	// duplicates retained.
	AllHeaders []string
}

// ParseFile parses the bill XML at path. When the document carries no
// date, a sibling data.json may supply one via its issued_on field.
func ParseFile(path string) (*Bill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	bill, err := Parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if bill.Date == "" {
		bill.Date = issuedOnDate(filepath.Join(filepath.Dir(path), "data.json"))
	}
	return bill, nil
}

// Parse parses bill XML from memory.
func Parse(data []byte) (*Bill, error) {
	bill := &Bill{Length: utf8.RuneCount(data)}

	dec := xml.NewDecoder(bytes.NewReader(data))
	names := familyNames[SchemaLegacy]
	sawRoot := false

	// Offset of the byte just before the current token, for raw
	// section capture.
	var prevOffset int64

	// Section scanning state.
	inSection := false      // inside a top-level section
	sectionNesting := 0     // nested <section> depth inside it
	childDepth := 0         // element depth inside the current section
	skipSection := false    // current section is withdrawn
	var sectionStart int64  // byte offset of the section start tag
	var current Section     // section under construction
	var text strings.Builder

	// Metadata capture: name of the simple element being read.
	var capture func(string)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				sawRoot = true
				bill.Schema = SchemaLegacy
				if strings.Contains(t.Name.Space, "uslm") {
					bill.Schema = SchemaUSLM
				}
				names = familyNames[bill.Schema]
			}

			local := t.Name.Local
			if inSection {
				childDepth++
				if local == "section" {
					sectionNesting++
				}
				// Enumerator and heading are taken from direct
				// children only, first occurrence wins.
				if childDepth == 1 && sectionNesting == 0 && !skipSection {
					switch local {
					case names.label:
						if current.Label == "" {
							current.Label, err = readElementText(dec, &t)
							if err != nil {
								return nil, err
							}
							text.WriteString(current.Label)
							childDepth--
						}
					case names.heading:
						if current.Header == "" {
							current.Header, err = readElementText(dec, &t)
							if err != nil {
								return nil, err
							}
							bill.AllHeaders = append(bill.AllHeaders, current.Header)
							text.WriteString(current.Header)
							childDepth--
						}
					}
				} else if local == names.heading && !skipSection {
					if h, err := readElementText(dec, &t); err == nil {
						bill.AllHeaders = append(bill.AllHeaders, h)
						text.WriteString(h)
						childDepth--
					} else {
						return nil, err
					}
				}
				continue
			}

			switch local {
			case "section":
				inSection = true
				sectionNesting = 0
				childDepth = 0
				sectionStart = prevOffset
				current = Section{IDAttr: attr(t, "id")}
				text.Reset()
				skipSection = attr(t, "status") == "withdrawn"
			case "congress":
				capture = func(s string) { bill.Congress = trailingAlpha.ReplaceAllString(s, "") }
			case "session":
				capture = func(s string) { bill.Session = trailingAlpha.ReplaceAllString(s, "") }
			case names.legis:
				capture = func(s string) { bill.LegisNum = s }
			case "title":
				if t.Name.Space == dcNamespace {
					capture = func(s string) { bill.Title = s }
				}
			case "date":
				if t.Name.Space == dcNamespace {
					capture = func(s string) { bill.Date = s }
				}
			case names.heading:
				if h, err := readElementText(dec, &t); err == nil {
					bill.AllHeaders = append(bill.AllHeaders, h)
				} else {
					return nil, err
				}
			}

		case xml.EndElement:
			if inSection {
				if childDepth == 0 {
					inSection = false
					if !skipSection {
						end := dec.InputOffset()
						current.Text = strings.TrimSpace(text.String())
						current.XML = string(data[sectionStart:end])
						current.Length = utf8.RuneCountInString(current.Text)
						bill.Sections = append(bill.Sections, current)
					}
				} else {
					if t.Name.Local == "section" && sectionNesting > 0 {
						sectionNesting--
					}
					childDepth--
				}
			}
			capture = nil

		case xml.CharData:
			if inSection && !skipSection {
				text.Write(t)
			} else if capture != nil {
				capture(strings.TrimSpace(string(t)))
				capture = nil
			}
		}

		prevOffset = dec.InputOffset()
	}

	if !sawRoot {
		return nil, errors.New("no root element")
	}
	return bill, nil
}

// readElementText consumes the element opened by start and returns its
// flattened text content.
func readElementText(dec *xml.Decoder, start *xml.StartElement) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			sb.Write(t)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// issuedOnDate reads the issued_on field from a congress-scraper
// data.json, if present.
func issuedOnDate(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var meta struct {
		IssuedOn string `json:"issued_on"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return meta.IssuedOn
}
