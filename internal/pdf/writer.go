// Package pdf builds Factur-X hybrid containers and reads multi-invoice PDFs:
// page text for boundary detection, page counting and splitting.
package pdf

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"strings"
	"time"
)

// Attachment is an embedded file (PDF/A-3 associated file)
type Attachment struct {
	Name           string
	Description    string
	MimeType       string
	Relationship   string // Alternative, Data, Source, Supplement
	Content        []byte
	ModifiedAt     time.Time
	ConformanceXMP string // extra rdf:Description for the XMP packet, optional
}

// Document is a text-only PDF made of pages of lines
type Document struct {
	Title    string
	Author   string
	Subject  string
	Producer string
	Created  time.Time

	Pages       [][]string
	Attachments []Attachment

	// PDFA marks the file as PDF/A-3B in the XMP metadata
	PDFA bool
}

type object struct {
	dict   string
	stream []byte
}

// Bytes renders the document. Output is deterministic for identical input.
func (d *Document) Bytes() []byte {
	var objs []object
	add := func(o object) int {
		objs = append(objs, o)
		return len(objs)
	}
	// Reserve catalog (1) and pages (2)
	add(object{})
	add(object{})

	font := add(object{dict: "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"})

	pages := d.Pages
	if len(pages) == 0 {
		pages = [][]string{{}}
	}
	var kids []string
	for _, lines := range pages {
		content := add(object{dict: "<< >>", stream: pageContent(lines)})
		page := add(object{dict: fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
			font, content)})
		kids = append(kids, fmt.Sprintf("%d 0 R", page))
	}

	var fileSpecs []string
	var names []string
	for _, a := range d.Attachments {
		mime := strings.ReplaceAll(a.MimeType, "/", "#2F")
		ef := add(object{
			dict: fmt.Sprintf("<< /Type /EmbeddedFile /Subtype /%s /Params << /Size %d /ModDate (%s) >> >>",
				mime, len(a.Content), pdfDate(a.ModifiedAt)),
			stream: a.Content,
		})
		spec := add(object{dict: fmt.Sprintf(
			"<< /Type /Filespec /F (%s) /UF (%s) /Desc (%s) /AFRelationship /%s /EF << /F %d 0 R /UF %d 0 R >> >>",
			escapeString(a.Name), escapeString(a.Name), escapeString(a.Description), a.Relationship, ef, ef)})
		fileSpecs = append(fileSpecs, fmt.Sprintf("%d 0 R", spec))
		names = append(names, fmt.Sprintf("(%s) %d 0 R", escapeString(a.Name), spec))
	}

	metadata := add(object{dict: "<< /Type /Metadata /Subtype /XML >>", stream: []byte(d.xmp())})
	info := add(object{dict: fmt.Sprintf("<< /Title (%s) /Author (%s) /Subject (%s) /Producer (%s) /CreationDate (%s) /ModDate (%s) >>",
		escapeString(d.Title), escapeString(d.Author), escapeString(d.Subject), escapeString(d.Producer),
		pdfDate(d.Created), pdfDate(d.Created))})

	catalog := fmt.Sprintf("<< /Type /Catalog /Pages 2 0 R /Metadata %d 0 R", metadata)
	if len(fileSpecs) > 0 {
		catalog += fmt.Sprintf(" /Names << /EmbeddedFiles << /Names [%s] >> >> /AF [%s] /PageMode /UseAttachments",
			strings.Join(names, " "), strings.Join(fileSpecs, " "))
	}
	objs[0] = object{dict: catalog + " >>"}
	objs[1] = object{dict: fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(kids))}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		if o.stream != nil {
			dict := strings.TrimSuffix(o.dict, ">>")
			fmt.Fprintf(&buf, "%s/Length %d >>\nstream\n", dict, len(o.stream))
			buf.Write(o.stream)
			buf.WriteString("\nendstream")
		} else {
			buf.WriteString(o.dict)
		}
		buf.WriteString("\nendobj\n")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	id := md5.Sum(buf.Bytes())
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R /Info %d 0 R /ID [<%x> <%x>] >>\nstartxref\n%d\n%%%%EOF\n",
		len(objs)+1, info, id, id, xref)

	return buf.Bytes()
}

func pageContent(lines []string) []byte {
	var b bytes.Buffer
	b.WriteString("BT\n/F1 10 Tf\n12 TL\n50 800 Td\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "(%s) Tj T*\n", escapeString(line))
	}
	b.WriteString("ET")
	return b.Bytes()
}

// escapeString encodes s as a WinAnsi PDF literal string body
func escapeString(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '\\' || r == '(' || r == ')':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 0x20:
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xFF:
			fmt.Fprintf(&b, "\\%03o", r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}

func pdfDate(t time.Time) string {
	return t.UTC().Format("D:20060102150405") + "+00'00'"
}

func (d *Document) xmp() string {
	created := d.Created.UTC().Format(time.RFC3339)

	var b strings.Builder
	b.WriteString(`<?xpacket begin="` + "\ufeff" + `" id="W5M0MpCehiHzreSzNTczkc9d"?>` + "\n")
	b.WriteString(`<x:xmpmeta xmlns:x="adobe:ns:meta/">` + "\n")
	b.WriteString(`<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` + "\n")
	fmt.Fprintf(&b, `<rdf:Description rdf:about="" xmlns:dc="http://purl.org/dc/elements/1.1/">`+
		`<dc:format>application/pdf</dc:format>`+
		`<dc:title><rdf:Alt><rdf:li xml:lang="x-default">%s</rdf:li></rdf:Alt></dc:title>`+
		`<dc:creator><rdf:Seq><rdf:li>%s</rdf:li></rdf:Seq></dc:creator>`+
		`</rdf:Description>`+"\n", xmlEscape(d.Title), xmlEscape(d.Author))
	fmt.Fprintf(&b, `<rdf:Description rdf:about="" xmlns:xmp="http://ns.adobe.com/xap/1.0/">`+
		`<xmp:CreateDate>%s</xmp:CreateDate><xmp:ModifyDate>%s</xmp:ModifyDate><xmp:CreatorTool>%s</xmp:CreatorTool>`+
		`</rdf:Description>`+"\n", created, created, xmlEscape(d.Producer))
	fmt.Fprintf(&b, `<rdf:Description rdf:about="" xmlns:pdf="http://ns.adobe.com/pdf/1.3/"><pdf:Producer>%s</pdf:Producer></rdf:Description>`+"\n",
		xmlEscape(d.Producer))
	if d.PDFA {
		b.WriteString(`<rdf:Description rdf:about="" xmlns:pdfaid="http://www.aiim.org/pdfa/ns/id/">` +
			`<pdfaid:part>3</pdfaid:part><pdfaid:conformance>B</pdfaid:conformance></rdf:Description>` + "\n")
	}
	for _, a := range d.Attachments {
		if a.ConformanceXMP != "" {
			b.WriteString(a.ConformanceXMP)
			b.WriteString("\n")
		}
	}
	b.WriteString("</rdf:RDF>\n</x:xmpmeta>\n")
	b.WriteString(`<?xpacket end="w"?>`)
	return b.String()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '"':
			buf.WriteString("&quot;")
		default:
			buf.WriteRune(r)
		}
	}
	return buf.String()
}
