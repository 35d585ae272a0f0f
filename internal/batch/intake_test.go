package batch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/pdf"
)

func TestDetectBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
		want  []pdf.PageRange
	}{
		{
			name:  "empty",
			pages: nil,
			want:  nil,
		},
		{
			name:  "single page",
			pages: []string{"Invoice No. 2024-001"},
			want:  []pdf.PageRange{{From: 1, To: 1}},
		},
		{
			name:  "page footers",
			pages: []string{"Page 1 of 2", "Page 2 of 2", "Seite 1 von 1", "Pagina 1 di 2", "Pagina 2 di 2"},
			want:  []pdf.PageRange{{From: 1, To: 2}, {From: 3, To: 3}, {From: 4, To: 5}},
		},
		{
			name: "changing invoice numbers",
			pages: []string{
				"Rechnungsnummer: RE-100\nPosition 1",
				"Rechnungsnummer: RE-100\nSumme",
				"Facture N° F-7",
				"Numero fattura 33/2024",
			},
			want: []pdf.PageRange{{From: 1, To: 2}, {From: 3, To: 3}, {From: 4, To: 4}},
		},
		{
			name:  "numbers compared case-insensitively",
			pages: []string{"invoice no: ab-12", "Invoice No: AB-12"},
			want:  []pdf.PageRange{{From: 1, To: 2}},
		},
		{
			name:  "pages without signals continue",
			pages: []string{"Factuurnummer 55", "terms and conditions", "Faktura VAT nr FV/1/2024"},
			want:  []pdf.PageRange{{From: 1, To: 2}, {From: 3, To: 3}},
		},
		{
			name:  "footer wins over number",
			pages: []string{"Invoice No. 1 Page 1 of 2", "Invoice No. 2 Page 2 of 2"},
			want:  []pdf.PageRange{{From: 1, To: 2}},
		},
		{
			name:  "first number found later",
			pages: []string{"cover letter", "Invoice No. 9", "Invoice No. 10"},
			want:  []pdf.PageRange{{From: 1, To: 2}, {From: 3, To: 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, batch.DetectBoundaries(tt.pages))
		})
	}
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		declared string
		want     string
	}{
		{"declared kept", []byte("anything"), "image/jpeg", "image/jpeg"},
		{"declared params stripped", []byte("x"), "application/pdf; name=a.pdf", "application/pdf"},
		{"octet stream sniffed", []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n"), "application/octet-stream", "application/pdf"},
		{"missing sniffed", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "", "image/png"},
		{"plain text", []byte("Rechnung RE-1"), "", "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, batch.DetectMimeType(tt.data, tt.declared))
		})
	}
}
