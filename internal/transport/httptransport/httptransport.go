// Package httptransport is the default transport.Transport: it POSTs the
// caller's already-built JSON payload to a remote ingestion endpoint over
// net/http, the same bytes-on-the-wire shape as the teacher's Loki sender,
// generalized to an opaque ingestion endpoint and a richer error
// classification.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/flarelog/goclient/internal/transport"
)

// envelope is the wire shape POSTed to the ingestion endpoint: the caller's
// opaque payload bytes plus the scrub-field list the transport forwards
// verbatim, never inspecting either.
type envelope struct {
	Payload     json.RawMessage `json:"payload"`
	ScrubFields []string        `json:"scrub_fields,omitempty"`
}

// apiResponse is the shape the ingestion endpoint answers with: an error
// code (0 for success) plus whatever body the server wants to echo back.
type apiResponse struct {
	Error int             `json:"error"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Transport is the default, HTTP-backed transport.Transport.
type Transport struct {
	endpoint   string
	httpClient *http.Client
	accessToken string
}

// New builds a Transport that POSTs to endpoint/api/v1/report, authorizing
// with accessToken. timeout bounds each individual POST, mirroring the
// teacher's 5-second client timeout in loki.NewLokiSender.
func New(endpoint, accessToken string, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Transport{
		endpoint:    endpoint,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// PostAsJSON implements transport.Transport.
func (t *Transport) PostAsJSON(ctx context.Context, payload []byte, scrubFields []string) (transport.Response, error) {
	body, err := json.Marshal(envelope{Payload: json.RawMessage(payload), ScrubFields: scrubFields})
	if err != nil {
		return transport.Response{}, transport.ArgumentError(fmt.Errorf("httptransport: marshal envelope: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/api/v1/report", bytes.NewReader(body))
	if err != nil {
		return transport.Response{}, transport.ArgumentError(fmt.Errorf("httptransport: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.accessToken)
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return transport.Response{}, classifyDoErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return transport.Response{}, transport.NetworkError(fmt.Errorf("httptransport: read response body: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return transport.Response{Error: transport.ErrorTooManyRequests, Body: respBody}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transport.Response{}, transport.OtherError(fmt.Errorf("httptransport: ingestion endpoint returned status %d: %s", resp.StatusCode, respBody))
	}

	var decoded apiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return transport.Response{}, transport.OtherError(fmt.Errorf("httptransport: decode response: %w", err))
	}
	return transport.Response{Error: decoded.Error, Body: decoded.Body}, nil
}

// classifyDoErr tags an http.Client.Do failure as network-class whenever it
// looks like a dial/timeout/connection problem, matching spec.md §4.2.3's
// "Transport I/O error (network class)" row; anything else falls to Other.
func classifyDoErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return transport.NetworkError(fmt.Errorf("httptransport: %w", err))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transport.NetworkError(fmt.Errorf("httptransport: %w", err))
	}
	return transport.OtherError(fmt.Errorf("httptransport: %w", err))
}
