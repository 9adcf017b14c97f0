package delivery_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/erechnung/internal/delivery"
	"github.com/rezonia/erechnung/internal/model"
)

func envelope() delivery.Envelope {
	return delivery.Envelope{
		AttemptID:     "att-1",
		InvoiceID:     "inv-0001",
		InvoiceNumber: "RE-2026-0001",
		Format:        model.FormatXRechnung,
		Filename:      "RE-2026-0001_xrechnung.xml",
		MimeType:      model.MimeXML,
		Content:       []byte("<ubl:Invoice/>"),
		Recipient:     "buchhaltung@beispiel.de",
	}
}

func TestHTTPAdapter(t *testing.T) {
	var gotAuth, gotType, gotIdem string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotIdem = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"id":"erp-991"}`))
	}))
	defer srv.Close()

	ch := &delivery.Channel{ID: "erp", Config: map[string]string{"url": srv.URL + "/invoices", "token": "secret"}}
	res := delivery.NewHTTPAdapter(time.Second).Send(context.Background(), ch, envelope())

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "erp-991", res.TrackingID)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, model.MimeXML, gotType)
	assert.Equal(t, "att-1", gotIdem)
	assert.Equal(t, "<ubl:Invoice/>", string(gotBody))
}

func TestHTTPAdapter_RequestIDHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", "req-7")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := &delivery.Channel{ID: "erp", Config: map[string]string{"url": srv.URL}}
	res := delivery.NewHTTPAdapter(time.Second).Send(context.Background(), ch, envelope())
	require.True(t, res.Success)
	assert.Equal(t, "req-7", res.TrackingID)
}

func TestHTTPAdapter_Classification(t *testing.T) {
	tests := []struct {
		status    int
		code      string
		retryable bool
	}{
		{http.StatusServiceUnavailable, delivery.CodeServerError, true},
		{http.StatusTooManyRequests, delivery.CodeRateLimited, true},
		{http.StatusRequestTimeout, delivery.CodeTimeout, true},
		{http.StatusBadRequest, delivery.CodeRejected, false},
		{http.StatusUnauthorized, delivery.CodeUnauthorized, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			ch := &delivery.Channel{ID: "erp", Config: map[string]string{"url": srv.URL}}
			res := delivery.NewHTTPAdapter(time.Second).Send(context.Background(), ch, envelope())
			require.False(t, res.Success)
			assert.Equal(t, tt.code, res.Error.Code)
			assert.Equal(t, tt.retryable, res.Error.Retryable)
		})
	}
}

func TestHTTPAdapter_NetworkErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	ch := &delivery.Channel{ID: "erp", Config: map[string]string{"url": url}}
	res := delivery.NewHTTPAdapter(time.Second).Send(context.Background(), ch, envelope())
	require.False(t, res.Success)
	assert.True(t, res.Error.Retryable)

	res = delivery.NewHTTPAdapter(time.Second).Send(context.Background(), &delivery.Channel{ID: "erp"}, envelope())
	assert.Equal(t, delivery.CodeInvalidConfig, res.Error.Code)
	assert.False(t, res.Error.Retryable)
}

func TestPortalAdapter(t *testing.T) {
	var filename, format string
	var content []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		filename = hdr.Filename
		content, _ = io.ReadAll(f)
		format = r.FormValue("format")
		json.NewEncoder(w).Encode(map[string]string{"trackingId": "portal-1"})
	}))
	defer srv.Close()

	ch := &delivery.Channel{ID: "portal", Config: map[string]string{"url": srv.URL}}
	res := delivery.NewPortalAdapter(time.Second).Send(context.Background(), ch, envelope())

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "portal-1", res.TrackingID)
	assert.Equal(t, "RE-2026-0001_xrechnung.xml", filename)
	assert.Equal(t, "<ubl:Invoice/>", string(content))
	assert.Equal(t, "xrechnung", format)
}

func TestEmailAdapter(t *testing.T) {
	var path, auth string
	var payload struct {
		From struct {
			Email string `json:"email"`
		} `json:"from"`
		Subject          string `json:"subject"`
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
			} `json:"to"`
		} `json:"personalizations"`
		Attachments []struct {
			Content  string `json:"content"`
			Filename string `json:"filename"`
			Type     string `json:"type"`
		} `json:"attachments"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	adapter := delivery.NewEmailAdapter(delivery.EmailConfig{APIKey: "SG.key", FromEmail: "rechnung@muster.de", FromName: "Muster GmbH", Host: srv.URL})
	res := adapter.Send(context.Background(), &delivery.Channel{ID: "mail"}, envelope())

	require.True(t, res.Success, "%+v", res.Error)
	assert.Equal(t, "sg-123", res.TrackingID)
	assert.Equal(t, delivery.SendGridSendPath, path)
	assert.Equal(t, "Bearer SG.key", auth)
	assert.Equal(t, "rechnung@muster.de", payload.From.Email)
	assert.Equal(t, "Rechnung RE-2026-0001", payload.Subject)
	require.Len(t, payload.Personalizations, 1)
	assert.Equal(t, "buchhaltung@beispiel.de", payload.Personalizations[0].To[0].Email)
	require.Len(t, payload.Attachments, 1)
	assert.Equal(t, "RE-2026-0001_xrechnung.xml", payload.Attachments[0].Filename)
	decoded, err := base64.StdEncoding.DecodeString(payload.Attachments[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "<ubl:Invoice/>", string(decoded))
}

func TestEmailAdapter_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := delivery.NewEmailAdapter(delivery.EmailConfig{APIKey: "SG.key", FromEmail: "rechnung@muster.de", Host: srv.URL})
	res := adapter.Send(context.Background(), &delivery.Channel{ID: "mail"}, envelope())
	require.False(t, res.Success)
	assert.Equal(t, delivery.CodeRateLimited, res.Error.Code)
	assert.True(t, res.Error.Retryable)

	env := envelope()
	env.Recipient = ""
	res = adapter.Send(context.Background(), &delivery.Channel{ID: "mail"}, env)
	assert.Equal(t, delivery.CodeNoRecipient, res.Error.Code)
	assert.False(t, res.Error.Retryable)

	res = delivery.NewEmailAdapter(delivery.EmailConfig{}).Send(context.Background(), &delivery.Channel{ID: "mail"}, envelope())
	assert.Equal(t, delivery.CodeInvalidConfig, res.Error.Code)
}

func TestPeppolAdapter(t *testing.T) {
	a := delivery.NewPeppolAdapter()
	ch := &delivery.Channel{ID: "ap", Config: map[string]string{"participantId": "0204:991-12345-67"}}

	first := a.Send(context.Background(), ch, envelope())
	second := a.Send(context.Background(), ch, envelope())
	require.True(t, first.Success)
	assert.Regexp(t, `^PEPPOL-[0-9a-f-]{36}$`, first.TrackingID)
	assert.Equal(t, first.TrackingID, second.TrackingID)

	res := a.Send(context.Background(), &delivery.Channel{ID: "ap"}, envelope())
	require.False(t, res.Success)
	assert.False(t, res.Error.Retryable)

	res = a.Send(context.Background(), &delivery.Channel{ID: "ap", Config: map[string]string{"participantId": "nonsense"}}, envelope())
	assert.Equal(t, delivery.CodeInvalidConfig, res.Error.Code)
}

func TestFileAdapter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	res := delivery.NewFileAdapter().Send(context.Background(), &delivery.Channel{ID: "fs", Config: map[string]string{"directory": dir}}, envelope())
	require.True(t, res.Success, "%+v", res.Error)

	data, err := os.ReadFile(filepath.Join(dir, "RE-2026-0001_xrechnung.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<ubl:Invoice/>", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")

	res = delivery.NewFileAdapter().Send(context.Background(), &delivery.Channel{ID: "fs"}, envelope())
	assert.Equal(t, delivery.CodeInvalidConfig, res.Error.Code)
}
