package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-engine/internal/llm"
	"github.com/rezonia/einvoice-engine/internal/model"
)

const invoiceJSON = `{
	"invoice_number": "RE-2024-0042",
	"date": "2024-03-01",
	"due_date": "2024-03-31",
	"type": "invoice",
	"currency": "eur",
	"seller": {
		"name": "Muster Software GmbH",
		"city": "Berlin",
		"country_code": "de",
		"vat_id": "DE 123 456 789"
	},
	"buyer": {
		"name": "Stadtverwaltung Hamburg",
		"country_code": "DE"
	},
	"payment": {"iban": "DE89 3704 0044 0532 0130 00"},
	"items": [
		{"number": 1, "name": "Softwarelizenz", "quantity": 10, "unit_price": 100, "amount": 1000, "vat_rate": 19, "vat_category": "S"},
		{"number": 2, "name": "Fachbuch", "quantity": 4, "unit_price": 50, "amount": 200, "vat_rate": 7}
	],
	"subtotal": 1200,
	"total_vat": 204,
	"total_amount": 1404
}`

// fakeCompleter records prompts and answers with a canned response
type fakeCompleter struct {
	response string
	err      error
	text     int
	image    int
	prompt   string
}

func (f *fakeCompleter) ChatText(_ context.Context, _, _, userPrompt string) (string, error) {
	f.text++
	f.prompt = userPrompt
	return f.response, f.err
}

func (f *fakeCompleter) ChatWithImage(_ context.Context, _, _, userPrompt string, _ []byte, _ string) (string, error) {
	f.image++
	f.prompt = userPrompt
	return f.response, f.err
}

func TestNewClient(t *testing.T) {
	client := llm.NewClient("test-api-key")
	require.NotNil(t, client)
}

func TestNewClient_WithOptions(t *testing.T) {
	client := llm.NewClient("test-api-key",
		llm.WithBaseURL("https://custom.api.com/v1"),
		llm.WithDefaultModel(llm.ModelGPT4o),
	)
	require.NotNil(t, client)
}

func TestNewExtractor_WithModel(t *testing.T) {
	client := llm.NewClient("test-api-key")
	extractor := llm.NewExtractor(client, llm.WithModel(llm.ModelGPT4oMini))
	require.NotNil(t, extractor)
}

func TestExtractJSON_CodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "Here is the invoice data:\n```json\n{\"invoice_number\": \"001\"}\n```",
			expected: `{"invoice_number": "001"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"invoice_number\": \"002\"}\n```",
			expected: `{"invoice_number": "002"}`,
		},
		{
			name:     "raw json object",
			input:    `{"invoice_number": "003"}`,
			expected: `{"invoice_number": "003"}`,
		},
		{
			name:     "raw json array",
			input:    `[{"id": 1}, {"id": 2}]`,
			expected: `[{"id": 1}, {"id": 2}]`,
		},
		{
			name:     "json with explanation",
			input:    "I found the following data:\n```json\n{\"total\": 1404.00}\n```\nThis represents the total amount.",
			expected: `{"total": 1404.00}`,
		},
		{
			name:     "object inside prose",
			input:    `Sure! {"invoice_number": "004"} Let me know if you need more.`,
			expected: `{"invoice_number": "004"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := llm.ExtractJSON(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestModelConstants(t *testing.T) {
	models := []string{
		llm.ModelClaude35Sonnet,
		llm.ModelClaude3Haiku,
		llm.ModelGPT4oMini,
		llm.ModelGPT4o,
		llm.ModelGeminiFlash,
	}

	for _, m := range models {
		assert.NotEmpty(t, m)
		assert.Contains(t, m, "/") // All models have provider/model format
	}
}

func TestLLMResponse_ToInvoice(t *testing.T) {
	var resp llm.LLMResponse
	require.NoError(t, json.Unmarshal([]byte(invoiceJSON), &resp))

	inv, err := resp.ToInvoice()
	require.NoError(t, err)

	assert.Equal(t, "RE-2024-0042", inv.InvoiceNumber)
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, "DE", inv.Seller.CountryCode)
	assert.Equal(t, "DE123456789", inv.Seller.VATID)
	assert.Equal(t, "DE89370400440532013000", inv.Payment.IBAN)
	require.NotNil(t, inv.DueDate)
	assert.Equal(t, "2024-03-31", inv.DueDate.Format("2006-01-02"))
	require.Len(t, inv.Lines, 2)
	assert.Equal(t, model.TaxCategoryStandard, inv.Lines[1].TaxCategory)
	assert.True(t, decimal.NewFromInt(1404).Equal(inv.Totals.TotalAmount))
	assert.Equal(t, 1.0, llm.Confidence(inv))
}

func TestLLMResponse_ComputesMissingTotals(t *testing.T) {
	resp := llm.LLMResponse{
		InvoiceNumber: "A-1",
		Date:          "01.03.2024",
		Items: []llm.LLMItem{
			{Name: "Beratung", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(150), VATRate: model.Rate(19)},
		},
	}

	inv, err := resp.ToInvoice()
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", inv.InvoiceDate.Format("2006-01-02"))
	assert.True(t, decimal.NewFromInt(300).Equal(inv.Lines[0].LineTotal))
	assert.True(t, decimal.NewFromInt(57).Equal(inv.Totals.TaxAmount))
	assert.True(t, decimal.NewFromInt(357).Equal(inv.Totals.TotalAmount))
}

func TestLLMResponse_Rejects(t *testing.T) {
	_, err := (&llm.LLMResponse{Date: "yesterday", Items: []llm.LLMItem{{Name: "x"}}}).ToInvoice()
	assert.Error(t, err)

	_, err = (&llm.LLMResponse{Date: "2024-03-01"}).ToInvoice()
	assert.Error(t, err)
}

func TestExtractFromFile_Text(t *testing.T) {
	fake := &fakeCompleter{response: "```json\n" + invoiceJSON + "\n```"}
	extractor := llm.NewExtractor(fake)

	ext, err := extractor.ExtractFromFile(context.Background(), []byte("Rechnung RE-2024-0042 ..."), "scan.txt", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.text)
	assert.Contains(t, fake.prompt, "Rechnung RE-2024-0042")
	assert.Equal(t, "RE-2024-0042", ext.Invoice.InvoiceNumber)
	assert.Greater(t, ext.Confidence, 0.9)
}

func TestExtractFromFile_Image(t *testing.T) {
	fake := &fakeCompleter{response: invoiceJSON}
	extractor := llm.NewExtractor(fake)

	_, err := extractor.ExtractFromFile(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "page.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.image)
	assert.Equal(t, 0, fake.text)
}

func TestExtractFromFile_Errors(t *testing.T) {
	extractor := llm.NewExtractor(&fakeCompleter{response: "I could not read this document."})

	_, err := extractor.ExtractFromFile(context.Background(), []byte("garbage"), "a.txt", "text/plain")
	var extErr *model.ExtractionError
	require.True(t, errors.As(err, &extErr))
	assert.False(t, extErr.Transient())

	_, err = extractor.ExtractFromFile(context.Background(), nil, "a.txt", "text/plain")
	assert.Error(t, err)

	extractor = llm.NewExtractor(&fakeCompleter{err: errors.New("connection reset")})
	_, err = extractor.ExtractFromFile(context.Background(), []byte("x"), "a.txt", "text/plain")
	require.True(t, errors.As(err, &extErr))
	assert.False(t, model.IsTransient(err))
}

func TestExtractFromFile_ProviderStatusClassification(t *testing.T) {
	tests := []struct {
		status      int
		transient   bool
		rateLimited bool
	}{
		{http.StatusTooManyRequests, true, true},
		{http.StatusBadGateway, true, false},
		{http.StatusUnauthorized, false, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"error","code":"x","param":""}}`))
			}))
			defer srv.Close()

			client := llm.NewClient("key", llm.WithBaseURL(srv.URL))
			_, err := llm.NewExtractor(client).ExtractFromFile(context.Background(), []byte("text"), "a.txt", "text/plain")

			var extErr *model.ExtractionError
			require.True(t, errors.As(err, &extErr))
			assert.Equal(t, tt.transient, extErr.Transient())
			assert.Equal(t, tt.rateLimited, extErr.RateLimited)
			assert.Equal(t, int32(1), calls.Load(), "SDK retries must stay disabled")
		})
	}
}

func TestClient_ChatText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m",` +
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	out, err := llm.NewClient("key", llm.WithBaseURL(srv.URL)).ChatText(context.Background(), "", "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestPromptTemplates(t *testing.T) {
	assert.NotEmpty(t, llm.SystemPromptInvoiceExtractor)
	assert.Contains(t, llm.SystemPromptInvoiceExtractor, "EN 16931")
	assert.Contains(t, llm.UserPromptTextExtraction, "JSON")
	assert.Contains(t, llm.UserPromptImageExtraction, "vat_category")
	assert.Equal(t, 1, strings.Count(llm.UserPromptTextExtraction, "%s"))
	assert.Equal(t, 1, strings.Count(llm.UserPromptOCRCorrection, "%s"))
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, "https://openrouter.ai/api/v1", llm.DefaultBaseURL)
}

func BenchmarkExtractJSON(b *testing.B) {
	input := "Here is the data:\n```json\n{\"invoice_number\": \"001\", \"total\": 1404.00}\n```"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		llm.ExtractJSON(input)
	}
}
