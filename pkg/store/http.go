package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/agentpress/syncbridge/pkg/entity"
	"github.com/agentpress/syncbridge/pkg/errors"
)

// DefaultHTTPTimeout is the default timeout for store requests.
const DefaultHTTPTimeout = 30 * time.Second

// maxErrorBody bounds how much of an error response body gets read.
const maxErrorBody = 4 << 10

// httpAdapter fronts a remote store over its REST API.
//
// Wire contract:
//
//	GET  {base}/api/v1/entities/{type}/{id}            -> 200 State JSON
//	PUT  {base}/api/v1/entities/{type}/{id}            -> 204
//	     header X-Expected-Version: {expectedVersion}
//
// Status mapping: 404 is ErrNotFound, 409 is ErrVersionConflict, and any
// 5xx is ErrStoreUnavailable so the retry policy treats it as transient.
type httpAdapter struct {
	source  entity.Source
	baseURL string
	token   string
	http    *http.Client
}

// HTTPOption configures an HTTP store adapter.
type HTTPOption func(*httpAdapter)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *httpAdapter) {
		if c != nil {
			a.http = c
		}
	}
}

// WithBearerToken sets the Authorization bearer token sent on every request.
func WithBearerToken(token string) HTTPOption {
	return func(a *httpAdapter) {
		a.token = token
	}
}

// NewHTTP returns an adapter for a remote store at baseURL.
func NewHTTP(source entity.Source, baseURL string, opts ...HTTPOption) Adapter {
	a := &httpAdapter{
		source:  source,
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *httpAdapter) Source() entity.Source {
	return a.source
}

func (a *httpAdapter) Read(ctx context.Context, id entity.ID) (entity.State, error) {
	req, err := a.newRequest(ctx, http.MethodGet, a.entityURL(id), nil)
	if err != nil {
		return entity.State{}, errors.WrapStore(string(a.source), "read", id.String(), err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return entity.State{}, errors.WrapStore(string(a.source), "read", id.String(), err)
	}
	defer resp.Body.Close()

	if err := a.checkStatus(resp, "read", id); err != nil {
		return entity.State{}, err
	}

	var state entity.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return entity.State{}, errors.NewMalformedDataError(id.String(), "", "decoding "+string(a.source)+" response: "+err.Error())
	}
	return state, nil
}

func (a *httpAdapter) Write(ctx context.Context, id entity.ID, state entity.State, expectedVersion int64) error {
	body, err := json.Marshal(state)
	if err != nil {
		return errors.NewMalformedDataError(id.String(), "", "encoding state: "+err.Error())
	}

	req, err := a.newRequest(ctx, http.MethodPut, a.entityURL(id), bytes.NewReader(body))
	if err != nil {
		return errors.WrapStore(string(a.source), "write", id.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Expected-Version", strconv.FormatInt(expectedVersion, 10))

	resp, err := a.http.Do(req)
	if err != nil {
		return errors.WrapStore(string(a.source), "write", id.String(), err)
	}
	defer resp.Body.Close()

	return a.checkStatus(resp, "write", id)
}

func (a *httpAdapter) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *httpAdapter) entityURL(id entity.ID) string {
	return fmt.Sprintf("%s/api/v1/entities/%s/%s", a.baseURL, id.Type, id.ID)
}

func (a *httpAdapter) checkStatus(resp *http.Response, op string, id entity.ID) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errors.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		actual, _ := strconv.ParseInt(resp.Header.Get("X-Current-Version"), 10, 64)
		return errors.NewVersionConflictError(id.String(), 0, actual)
	case resp.StatusCode >= 500:
		return errors.WrapStore(string(a.source), op, id.String(),
			fmt.Errorf("%s: %w", readErrorBody(resp), errors.ErrStoreUnavailable))
	default:
		// Unexpected statuses are not transient; retrying a 4xx repeats
		// the same rejection.
		return errors.NewStoreError(string(a.source), op, id.String(),
			errors.New("unexpected status "+resp.Status+": "+readErrorBody(resp)))
	}
}

func readErrorBody(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(b) == 0 {
		return resp.Status
	}
	return string(bytes.TrimSpace(b))
}
