package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rezonia/einvoice-engine/internal/batch"
	"github.com/rezonia/einvoice-engine/internal/format"
	"github.com/rezonia/einvoice-engine/internal/model"
	"github.com/rezonia/einvoice-engine/internal/model/modeltest"
	"github.com/rezonia/einvoice-engine/internal/observability"
	"github.com/rezonia/einvoice-engine/internal/report"
	"github.com/rezonia/einvoice-engine/internal/server"
	"github.com/rezonia/einvoice-engine/internal/storage"
	"github.com/rezonia/einvoice-engine/internal/store/sqlite"
)

type recordingQueue struct {
	ids []string
}

func (q *recordingQueue) EnqueueBatch(_ context.Context, jobID string) error {
	q.ids = append(q.ids, jobID)
	return nil
}

type testServer struct {
	*server.Server
	db    *sqlite.DB
	queue *recordingQueue
}

func newTestServer(t testing.TB) *testServer {
	t.Helper()
	db, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	queue := &recordingQueue{}
	srv := server.NewServer(&server.Config{Address: ":8080", MaxUploadBytes: 10 << 20}, server.Deps{
		Formats: format.NewRegistry(),
		Batches: batch.NewService(db, storage.NewLocal(t.TempDir(), nil), queue, nil),
		Ledger:  db,
		Reports: report.NewExporter(db, nil),
		Metrics: observability.NewMetrics(),
	})
	return &testServer{Server: srv, db: db, queue: queue}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func invoiceBody(t testing.TB, inv *model.Invoice) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(inv)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.NotEmpty(t, response["time"])
}

func TestFormatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response server.FormatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response.Formats, len(model.AllFormats()))
}

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/generate/xrechnung-ubl", invoiceBody(t, modeltest.GermanInvoice()))
	req.Header.Set("Content-Type", "application/json")
	w := srv.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out format.Output
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "RE-2024-0042_xrechnung_ubl.xml", out.FileName)
	assert.Contains(t, out.XMLContent, "RE-2024-0042")
	assert.Equal(t, len(out.XMLContent), out.FileSize)
}

func TestGenerateEndpoint_FacturXCarriesPDF(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/generate/facturx-en16931", invoiceBody(t, modeltest.GermanInvoice())))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out format.Output
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.True(t, bytes.HasPrefix(out.PDFContent, []byte("%PDF-")))
}

func TestGenerateEndpoint_Compute(t *testing.T) {
	srv := newTestServer(t)

	inv := modeltest.GermanInvoice()
	inv.Totals = model.Totals{}

	w := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/generate/xrechnung-cii?compute=true", invoiceBody(t, inv)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "1404.00")
}

func TestGenerateEndpoint_Errors(t *testing.T) {
	srv := newTestServer(t)

	blocked := modeltest.GermanInvoice()
	blocked.Payment.IBAN = ""

	tests := []struct {
		name string
		path string
		body *bytes.Reader
		code int
	}{
		{"unsupported format", "/api/v1/generate/zugferd-1", invoiceBody(t, modeltest.GermanInvoice()), http.StatusNotFound},
		{"invalid json", "/api/v1/generate/peppol-bis", bytes.NewReader([]byte("{not json")), http.StatusBadRequest},
		{"blocking rule", "/api/v1/generate/xrechnung-ubl", invoiceBody(t, blocked), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(httptest.NewRequest(http.MethodPost, tt.path, tt.body))
			assert.Equal(t, tt.code, w.Code)

			var response server.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.NotEmpty(t, response.Error)
			if tt.code == http.StatusUnprocessableEntity {
				assert.Contains(t, response.Rules, "BR-DE-23-a")
			}
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/validate/xrechnung-ubl", invoiceBody(t, modeltest.GermanInvoice())))
	require.Equal(t, http.StatusOK, w.Code)

	var response server.ValidationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.True(t, response.Valid)
	assert.Empty(t, response.Errors)

	blocked := modeltest.GermanInvoice()
	blocked.Payment.IBAN = ""
	w = srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/validate/xrechnung-ubl", invoiceBody(t, blocked)))
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Valid)
	assert.Equal(t, "invalid", string(response.Status))
	require.NotEmpty(t, response.Errors)

	var rules []string
	for _, f := range response.Errors {
		rules = append(rules, f.RuleID)
	}
	assert.Contains(t, rules, "BR-DE-23-a")
}

func TestInspectEndpoint(t *testing.T) {
	srv := newTestServer(t)

	gen, err := format.NewRegistry().Create(model.FormatPeppolBIS)
	require.NoError(t, err)
	out, err := gen.Generate(context.Background(), modeltest.GermanInvoice())
	require.NoError(t, err)

	w := srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/inspect", strings.NewReader(out.XMLContent)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary format.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, "RE-2024-0042", summary.InvoiceNumber)
	assert.Equal(t, "EUR", summary.Currency)

	w = srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/inspect", strings.NewReader("<Unknown/>")))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/inspect", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func batchRequest(t *testing.T, owner, targetFormat string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("owner", owner))
	require.NoError(t, mw.WriteField("format", targetFormat))
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestBatchEndpoints(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.db.Grant(context.Background(), "user-1", 5, "seed"))

	w := srv.do(batchRequest(t, "user-1", "xrechnung-ubl", map[string]string{"a.txt": "Rechnung A", "b.txt": "Rechnung B"}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var job model.BatchJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Len(t, job.Sources, 2)
	assert.Equal(t, []string{job.ID}, srv.queue.ids)

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/batch/"+job.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/batch/"+job.ID+"/report", nil))
	require.Equal(t, http.StatusOK, w.Code)
	f, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), report.SheetSegments)

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/batch/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchEndpoint_Errors(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.db.Grant(context.Background(), "rich", 10, "seed"))

	tests := []struct {
		name   string
		owner  string
		format string
		files  map[string]string
		code   int
	}{
		{"no credits", "poor", "", map[string]string{"a.txt": "x"}, http.StatusPaymentRequired},
		{"no owner", "", "", map[string]string{"a.txt": "x"}, http.StatusBadRequest},
		{"no files", "rich", "", nil, http.StatusBadRequest},
		{"unknown format", "rich", "zugferd-1", map[string]string{"a.txt": "x"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := srv.do(batchRequest(t, tt.owner, tt.format, tt.files))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, srv.queue.ids)
}

func TestCreditsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	grant := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/credits/user-1", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return srv.do(req)
	}

	w := grant(`{"amount": 5, "key": "topup-1"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = grant(`{"amount": 5, "key": "topup-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var response server.CreditsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 5, response.Balance, "replayed key is a no-op")

	assert.Equal(t, http.StatusBadRequest, grant(`{"amount": 0, "key": "k"}`).Code)
	assert.Equal(t, http.StatusBadRequest, grant(`{"amount": 3}`).Code)

	w = grant(`{"amount": 50, "key": "topup-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "reused key with another amount")
	assert.Contains(t, w.Body.String(), "topup-1")

	w = srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/credits/user-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "user-1", response.Owner)
	assert.Equal(t, 5, response.Balance)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	srv.do(httptest.NewRequest(http.MethodGet, "/api/v1/formats", nil))

	w := srv.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `einvoice_http_requests_total{code="200",route="/api/v1/formats"} 1`)
}

func TestUnconfiguredComponents(t *testing.T) {
	srv := server.NewServer(&server.Config{}, server.Deps{})

	for _, path := range []string{"/api/v1/batch/x", "/api/v1/credits/u"} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

// Benchmark tests

func BenchmarkGenerate(b *testing.B) {
	srv := newTestServer(b)
	data, err := json.Marshal(modeltest.GermanInvoice())
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		srv.do(httptest.NewRequest(http.MethodPost, "/api/v1/generate/xrechnung-cii", bytes.NewReader(data)))
	}
}

func BenchmarkHealth(b *testing.B) {
	srv := newTestServer(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		srv.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	}
}
