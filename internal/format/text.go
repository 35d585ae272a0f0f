package format

import (
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"golang.org/x/text/unicode/norm"
)

// cleanText normalises free text to NFC and strips control characters.
// Line breaks and tabs become single spaces. XML escaping is left to etree.
func cleanText(s string) string {
	s = norm.NFC.String(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case unicode.IsControl(r):
		case r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// FileName builds `{invoiceNumber}_{suffix}.xml`, keeping only characters
// that are safe on every file system.
func FileName(invoiceNumber, suffix string) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(invoiceNumber) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		name = "invoice"
	}
	return name + "_" + suffix + ".xml"
}

// add appends a child element with normalised text
func add(parent *etree.Element, tag, text string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(cleanText(text))
	return el
}

// addOpt appends the element only when text is not blank
func addOpt(parent *etree.Element, tag, text string) *etree.Element {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return add(parent, tag, text)
}

// addAmount appends a monetary element carrying a currencyID attribute
func addAmount(parent *etree.Element, tag, value, currency string) *etree.Element {
	el := parent.CreateElement(tag)
	el.CreateAttr("currencyID", currency)
	el.SetText(value)
	return el
}

func newDocument() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}
