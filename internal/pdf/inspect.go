package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoInvoiceXML is returned when a PDF carries no embedded invoice XML
var ErrNoInvoiceXML = errors.New("no embedded invoice XML")

// Embedded file names recognised as hybrid invoice payloads, in priority order
var invoiceAttachmentNames = []string{
	FacturXFileName,
	"zugferd-invoice.xml",
	"ZUGFeRD-invoice.xml",
	"xrechnung.xml",
}

var configOnce sync.Once

// conf returns a fresh pdfcpu configuration. Reading never touches the user
// config directory; mode controls how strictly the file is validated.
func conf(mode int) *model.Configuration {
	configOnce.Do(api.DisableConfigDir)
	c := model.NewDefaultConfiguration()
	c.ValidationMode = mode
	return c
}

// PageRange is an inclusive 1-based page interval
type PageRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (r PageRange) String() string {
	if r.From == r.To {
		return fmt.Sprintf("%d", r.From)
	}
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// Pages returns the number of pages covered by the range
func (r PageRange) Pages() int {
	return r.To - r.From + 1
}

// Validate checks PDF syntax in relaxed mode
func Validate(data []byte) error {
	if err := api.Validate(bytes.NewReader(data), conf(model.ValidationRelaxed)); err != nil {
		return fmt.Errorf("validate pdf: %w", err)
	}
	return nil
}

// PageCount returns the number of pages
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), conf(model.ValidationNone))
	if err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// Split writes one PDF per range. Ranges must be within the page count.
func Split(data []byte, ranges []PageRange) ([][]byte, error) {
	total, err := PageCount(data)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(ranges))
	for _, r := range ranges {
		if r.From < 1 || r.To < r.From || r.To > total {
			return nil, fmt.Errorf("page range %s outside 1-%d", r, total)
		}
		var buf bytes.Buffer
		if err := api.Trim(bytes.NewReader(data), &buf, []string{r.String()}, conf(model.ValidationNone)); err != nil {
			return nil, fmt.Errorf("split pages %s: %w", r, err)
		}
		out = append(out, buf.Bytes())
	}
	return out, nil
}

// ExtractInvoiceXML returns the embedded invoice XML of a hybrid PDF
// (Factur-X, ZUGFeRD) together with its attachment name.
func ExtractInvoiceXML(data []byte) (string, []byte, error) {
	attachments, err := api.ExtractAttachmentsRaw(bytes.NewReader(data), "", nil, conf(model.ValidationNone))
	if err != nil {
		return "", nil, fmt.Errorf("read attachments: %w", err)
	}

	byName := make(map[string]model.Attachment, len(attachments))
	for _, a := range attachments {
		byName[strings.ToLower(a.FileName)] = a
	}
	for _, name := range invoiceAttachmentNames {
		a, ok := byName[strings.ToLower(name)]
		if !ok || a.Reader == nil {
			continue
		}
		content, err := io.ReadAll(a.Reader)
		if err != nil {
			return "", nil, fmt.Errorf("read attachment %s: %w", a.FileName, err)
		}
		return a.FileName, content, nil
	}
	return "", nil, ErrNoInvoiceXML
}
