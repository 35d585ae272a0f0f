package pdf

import (
	"fmt"
	"time"
)

// Factur-X attachment and XMP constants
const (
	FacturXFileName  = "factur-x.xml"
	FacturXNamespace = "urn:factur-x:pdfa:CrossIndustryDocument:invoice:1p0#"
	FacturXVersion   = "1.0"
	producer         = "einvoice-engine"
)

// Factur-X conformance levels
const (
	ConformanceBasic    = "BASIC"
	ConformanceEN16931  = "EN 16931"
	ConformanceExtended = "EXTENDED"
)

// FacturXMeta describes the visual page and XMP fields of a hybrid invoice
type FacturXMeta struct {
	InvoiceNumber string
	SellerName    string
	BuyerName     string
	IssueDate     time.Time
	Conformance   string
	DocumentType  string // defaults to INVOICE
	Lines         []string
}

// FacturX wraps CII XML into a PDF/A-3B container with the XML embedded as
// factur-x.xml (AFRelationship Alternative).
func FacturX(xml []byte, meta FacturXMeta) []byte {
	conformance := meta.Conformance
	if conformance == "" {
		conformance = ConformanceEN16931
	}
	docType := meta.DocumentType
	if docType == "" {
		docType = "INVOICE"
	}

	page := []string{
		fmt.Sprintf("Invoice %s", meta.InvoiceNumber),
		fmt.Sprintf("Date: %s", meta.IssueDate.Format("2006-01-02")),
		fmt.Sprintf("Seller: %s", meta.SellerName),
		fmt.Sprintf("Buyer: %s", meta.BuyerName),
		"",
	}
	page = append(page, meta.Lines...)

	doc := &Document{
		Title:    fmt.Sprintf("Invoice %s", meta.InvoiceNumber),
		Author:   meta.SellerName,
		Subject:  fmt.Sprintf("Factur-X %s invoice", conformance),
		Producer: producer,
		Created:  meta.IssueDate,
		Pages:    [][]string{page},
		PDFA:     true,
		Attachments: []Attachment{{
			Name:           FacturXFileName,
			Description:    "Factur-X invoice",
			MimeType:       "text/xml",
			Relationship:   "Alternative",
			Content:        xml,
			ModifiedAt:     meta.IssueDate,
			ConformanceXMP: facturXSchema(docType, conformance),
		}},
	}
	return doc.Bytes()
}

func facturXSchema(docType, conformance string) string {
	return `<rdf:Description rdf:about="" xmlns:pdfaExtension="http://www.aiim.org/pdfa/ns/extension/" ` +
		`xmlns:pdfaSchema="http://www.aiim.org/pdfa/ns/schema#" xmlns:pdfaProperty="http://www.aiim.org/pdfa/ns/property#">` +
		`<pdfaExtension:schemas><rdf:Bag><rdf:li rdf:parseType="Resource">` +
		`<pdfaSchema:schema>Factur-X PDFA Extension Schema</pdfaSchema:schema>` +
		`<pdfaSchema:namespaceURI>` + FacturXNamespace + `</pdfaSchema:namespaceURI>` +
		`<pdfaSchema:prefix>fx</pdfaSchema:prefix>` +
		`<pdfaSchema:property><rdf:Seq>` +
		schemaProperty("DocumentFileName", "name of the embedded XML invoice file") +
		schemaProperty("DocumentType", "INVOICE") +
		schemaProperty("Version", "version of the Factur-X XML schema") +
		schemaProperty("ConformanceLevel", "conformance level of the embedded XML invoice") +
		`</rdf:Seq></pdfaSchema:property>` +
		`</rdf:li></rdf:Bag></pdfaExtension:schemas></rdf:Description>` + "\n" +
		`<rdf:Description rdf:about="" xmlns:fx="` + FacturXNamespace + `">` +
		`<fx:DocumentType>` + xmlEscape(docType) + `</fx:DocumentType>` +
		`<fx:DocumentFileName>` + FacturXFileName + `</fx:DocumentFileName>` +
		`<fx:Version>` + FacturXVersion + `</fx:Version>` +
		`<fx:ConformanceLevel>` + xmlEscape(conformance) + `</fx:ConformanceLevel>` +
		`</rdf:Description>`
}

func schemaProperty(name, description string) string {
	return `<rdf:li rdf:parseType="Resource">` +
		`<pdfaProperty:name>` + name + `</pdfaProperty:name>` +
		`<pdfaProperty:valueType>Text</pdfaProperty:valueType>` +
		`<pdfaProperty:category>external</pdfaProperty:category>` +
		`<pdfaProperty:description>` + description + `</pdfaProperty:description>` +
		`</rdf:li>`
}
