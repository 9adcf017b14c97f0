package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultHTTPTimeout bounds one http_api or web_portal request
const DefaultHTTPTimeout = 30 * time.Second

func newRestClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "erechnung-delivery/1.0")
}

// HTTPAdapter posts the artifact body to config.url.
// Channel config keys: url, token (bearer), contentType.
type HTTPAdapter struct {
	client *resty.Client
}

// NewHTTPAdapter creates the http_api adapter
func NewHTTPAdapter(timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{client: newRestClient(timeout)}
}

func (a *HTTPAdapter) Type() ChannelType { return ChannelHTTPAPI }

func (a *HTTPAdapter) Send(ctx context.Context, ch *Channel, env Envelope) Result {
	url := ch.Config["url"]
	if url == "" {
		return Failed(Permanent(CodeInvalidConfig, "channel %s has no url", ch.ID))
	}
	contentType := ch.Config["contentType"]
	if contentType == "" {
		contentType = env.MimeType
	}

	req := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("X-Invoice-Number", env.InvoiceNumber).
		SetHeader("X-Invoice-Format", string(env.Format)).
		SetHeader("Idempotency-Key", env.AttemptID).
		SetBody(env.Content)
	if token := ch.Config["token"]; token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Post(url)
	if err != nil {
		return Failed(transportError(err))
	}
	if resp.IsSuccess() {
		return Delivered(trackingID(resp))
	}
	return Failed(classifyStatus(resp.StatusCode(), resp.String()))
}

// PortalAdapter uploads the artifact as multipart form field "file".
// Channel config keys: url, token (bearer).
type PortalAdapter struct {
	client *resty.Client
}

// NewPortalAdapter creates the web_portal adapter
func NewPortalAdapter(timeout time.Duration) *PortalAdapter {
	return &PortalAdapter{client: newRestClient(timeout)}
}

func (a *PortalAdapter) Type() ChannelType { return ChannelWebPortal }

func (a *PortalAdapter) Send(ctx context.Context, ch *Channel, env Envelope) Result {
	url := ch.Config["url"]
	if url == "" {
		return Failed(Permanent(CodeInvalidConfig, "channel %s has no url", ch.ID))
	}

	req := a.client.R().
		SetContext(ctx).
		SetFileReader("file", env.Filename, bytes.NewReader(env.Content)).
		SetFormData(map[string]string{
			"invoiceNumber": env.InvoiceNumber,
			"format":        string(env.Format),
		})
	if token := ch.Config["token"]; token != "" {
		req.SetAuthToken(token)
	}

	resp, err := req.Post(url)
	if err != nil {
		return Failed(transportError(err))
	}
	if resp.IsSuccess() {
		return Delivered(trackingID(resp))
	}
	return Failed(classifyStatus(resp.StatusCode(), resp.String()))
}

// trackingID reads id or trackingId from a JSON body, then X-Request-Id
func trackingID(resp *resty.Response) string {
	var body struct {
		ID         string `json:"id"`
		TrackingID string `json:"trackingId"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.TrackingID != "" {
			return body.TrackingID
		}
		if body.ID != "" {
			return body.ID
		}
	}
	return resp.Header().Get("X-Request-Id")
}

func transportError(err error) *DeliveryError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Transient(CodeTimeout, "request timed out: %v", err)
	}
	return Transient(CodeNetwork, "request failed: %v", err)
}
