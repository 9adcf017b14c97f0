package server_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/internal/fixture"
	"github.com/rezonia/erechnung/internal/logger"
	"github.com/rezonia/erechnung/internal/server"
	"github.com/rezonia/erechnung/pkg/erechnung"
)

func newTestServer(t *testing.T, withDelivery bool) *server.Server {
	t.Helper()
	var opts []erechnung.Option
	if withDelivery {
		db, err := delivery.OpenDatabase(delivery.DriverSQLite, ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		})
		store := delivery.NewStore(db)
		registry := delivery.NewChannelRegistry(store, delivery.NewFileAdapter(), delivery.NewPeppolAdapter())
		opts = append(opts, erechnung.WithDelivery(delivery.NewOrchestrator(store, registry)))
	}
	svc := erechnung.NewService(opts...)
	return server.NewServer(&server.Config{Address: ":8080", Debug: true}, svc, logger.Nop())
}

func do(t *testing.T, srv *server.Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, false)

	w := do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response server.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.NotEmpty(t, response.Time)
	assert.False(t, response.Delivery)
}

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(t, false)
	inv := fixture.Invoice()

	w := do(t, srv, http.MethodPost, "/api/v1/generate/xrechnung", inv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), inv.InvoiceNumber+"_xrechnung.xml")
	assert.Contains(t, w.Body.String(), "urn:xeinkauf.de:kosit:xrechnung_3.0")

	w = do(t, srv, http.MethodPost, "/api/v1/generate/zugferd?profile=EN16931", inv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
}

func TestGenerateEndpoint_Errors(t *testing.T) {
	srv := newTestServer(t, false)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"unknown format", "/api/v1/generate/pdfa", fixture.Invoice()},
		{"unknown profile", "/api/v1/generate/zugferd?profile=MINIMUM", fixture.Invoice()},
		{"malformed json", "/api/v1/generate/xrechnung", []byte("{")},
		{"missing number", "/api/v1/generate/xrechnung", map[string]any{"currency": "EUR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestValidateEndpoint(t *testing.T) {
	srv := newTestServer(t, false)

	w := do(t, srv, http.MethodPost, "/api/v1/validate?standard=xrechnung", fixture.Invoice())
	require.Equal(t, http.StatusOK, w.Code)

	var report erechnung.ComplianceReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, erechnung.StandardXRechnung, report.Standard)
	assert.Zero(t, report.ErrorCount)
	assert.True(t, report.Certification.XRechnung)

	w = do(t, srv, http.MethodPost, "/api/v1/validate?standard=peppol", fixture.Invoice())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateSummaryEndpoint(t *testing.T) {
	srv := newTestServer(t, false)

	missingName := fixture.Invoice()
	missingName.Customer.Name = ""
	w := do(t, srv, http.MethodPost, "/api/v1/validate/summary", map[string]any{
		"invoices": []any{fixture.Invoice(), missingName},
		"standard": "both",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sum erechnung.ComplianceSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 2, sum.Invoices)
	assert.Equal(t, 1, sum.Invalid)

	w = do(t, srv, http.MethodPost, "/api/v1/validate/summary", map[string]any{"standard": "ebics"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidateXMLEndpoint(t *testing.T) {
	srv := newTestServer(t, false)

	w := do(t, srv, http.MethodPost, "/api/v1/generate/xrechnung", fixture.Invoice())
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/validate/xml", w.Body.Bytes())
	require.Equal(t, http.StatusOK, w.Code)
	var report erechnung.ComplianceReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Zero(t, report.ErrorCount)

	w = do(t, srv, http.MethodPost, "/api/v1/validate/xml", []byte("not xml"))
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.NotZero(t, report.ErrorCount)

	w = do(t, srv, http.MethodPost, "/api/v1/validate/xml", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExplainEndpoint_Disabled(t *testing.T) {
	srv := newTestServer(t, false)

	w := do(t, srv, http.MethodPost, "/api/v1/validate/explain", server.ExplainRequest{Invoice: fixture.Invoice()})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestExportEndpoint(t *testing.T) {
	srv := newTestServer(t, false)

	w := do(t, srv, http.MethodPost, "/api/v1/export", server.ExportRequest{
		Invoices: fixture.Numbered(2),
		Options:  erechnung.ExportOptions{Formats: []erechnung.Format{erechnung.FormatXRechnung}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	assert.Equal(t, "2", w.Header().Get("X-Processed-Invoices"))

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "batch_summary.json")
	assert.Len(t, names, 3)

	w = do(t, srv, http.MethodPost, "/api/v1/export", server.ExportRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportValidateEndpoint(t *testing.T) {
	srv := newTestServer(t, false)

	broken := fixture.Invoice()
	broken.InvoiceNumber = ""
	w := do(t, srv, http.MethodPost, "/api/v1/export/validate", server.ExportRequest{
		Invoices: []*erechnung.Invoice{fixture.Invoice(), broken},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var v erechnung.BatchValidation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.False(t, v.CanExport)
	assert.NotEmpty(t, v.Issues)
}

func TestDeliveryEndpoints_Disabled(t *testing.T) {
	srv := newTestServer(t, false)

	w := do(t, srv, http.MethodGet, "/api/v1/delivery/channels", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDeliveryEndpoints(t *testing.T) {
	srv := newTestServer(t, true)
	dir := filepath.Join(t.TempDir(), "outbox")

	w := do(t, srv, http.MethodPut, "/api/v1/delivery/channels/archive", map[string]any{
		"type": "file_transfer", "name": "Archiv", "active": true,
		"config": map[string]string{"directory": dir, "token": "secret"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/v1/delivery/channels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"archive"`)
	assert.NotContains(t, w.Body.String(), "secret")

	inv := fixture.Invoice()
	w = do(t, srv, http.MethodPost, "/api/v1/deliveries", map[string]any{
		"invoice": inv, "channelIds": []string{"archive"}, "format": "xrechnung",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created server.DeliveryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Attempts, 1)
	id := created.Attempts[0].ID
	assert.Equal(t, delivery.StateSuccess, created.Attempts[0].State)

	w = do(t, srv, http.MethodGet, "/api/v1/deliveries/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/deliveries?invoiceId="+inv.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = do(t, srv, http.MethodPost, "/api/v1/deliveries/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/deliveries/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodPost, "/api/v1/deliveries", map[string]any{
		"invoice": inv, "channelIds": []string{"missing"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeliveryEndpoints_AsyncCancel(t *testing.T) {
	srv := newTestServer(t, true)

	w := do(t, srv, http.MethodPut, "/api/v1/delivery/channels/ap", map[string]any{
		"type": "peppol", "active": true, "config": map[string]string{"participantId": "0204:991-12345-67"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodPost, "/api/v1/deliveries", map[string]any{
		"invoice": fixture.Invoice(), "channelIds": []string{"ap"}, "async": true,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var created server.DeliveryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Len(t, created.Attempts, 1)
	assert.Equal(t, delivery.StatePending, created.Attempts[0].State)

	w = do(t, srv, http.MethodPost, "/api/v1/deliveries/"+created.Attempts[0].ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled"`)
}

func TestDeliveryRuleEndpoints(t *testing.T) {
	srv := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/delivery/rules", map[string]any{
		"tenantId": "t1", "name": "Behörden", "active": true,
		"conditions": map[string]any{"requireRoutingId": true},
		"actions":    map[string]any{"channelIds": []string{"ap"}, "format": "xrechnung"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/v1/delivery/rules?tenantId=t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "Behörden"))

	w = do(t, srv, http.MethodPost, "/api/v1/delivery/rules", map[string]any{
		"tenantId": "t1", "actions": map[string]any{"channelIds": []string{}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetRuleActiveEndpoint(t *testing.T) {
	srv := newTestServer(t, true)

	w := do(t, srv, http.MethodPost, "/api/v1/delivery/rules", map[string]any{
		"tenantId": "t2", "name": "Entwurf",
		"actions": map[string]any{"channelIds": []string{"ap"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	w = do(t, srv, http.MethodGet, "/api/v1/delivery/rules?tenantId=t2", nil)
	assert.NotContains(t, w.Body.String(), "Entwurf")

	w = do(t, srv, http.MethodPatch, "/api/v1/delivery/rules/"+id, map[string]any{"active": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, srv, http.MethodGet, "/api/v1/delivery/rules?tenantId=t2", nil)
	assert.Contains(t, w.Body.String(), "Entwurf")

	w = do(t, srv, http.MethodPatch, "/api/v1/delivery/rules/"+id, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPatch, "/api/v1/delivery/rules/unknown", map[string]any{"active": false})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
