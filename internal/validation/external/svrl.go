package external

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/rezonia/einvoice-engine/internal/validation"
)

// ParseSVRL converts an SVRL report into findings. failed-assert and
// successful-report elements are collected in document order; the flag
// attribute decides severity (fatal/error block, warning/information advise).
func ParseSVRL(data []byte) ([]validation.Finding, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse SVRL: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parse SVRL: empty document")
	}

	var findings []validation.Finding
	walk(root, func(el *etree.Element) {
		switch el.Tag {
		case "failed-assert", "successful-report":
			findings = append(findings, toFinding(el))
		}
	})
	return findings, nil
}

func walk(el *etree.Element, fn func(*etree.Element)) {
	fn(el)
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}

func toFinding(el *etree.Element) validation.Finding {
	ruleID := el.SelectAttrValue("id", "")
	if ruleID == "" {
		ruleID = el.SelectAttrValue("test", "SVRL")
	}

	var message string
	for _, child := range el.ChildElements() {
		if child.Tag == "text" {
			message = strings.Join(strings.Fields(child.Text()), " ")
			break
		}
	}

	return validation.Finding{
		RuleID:   ruleID,
		Message:  message,
		Severity: severity(el.Tag, el.SelectAttrValue("flag", "")),
		Field:    el.SelectAttrValue("location", ""),
	}
}

func severity(tag, flag string) validation.Severity {
	switch strings.ToLower(flag) {
	case "fatal", "error":
		return validation.SeverityError
	case "warning", "information", "info":
		return validation.SeverityWarning
	}
	if tag == "failed-assert" {
		return validation.SeverityError
	}
	return validation.SeverityWarning
}
