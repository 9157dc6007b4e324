// Package cloud reconciles local entities with the hosted record store
// over its REST row API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	apperrors "github.com/supplied-app/supplied/internal/errors"
)

// rowAPI is the transport the client talks through. Filters map column
// names to required values; Insert and Update decode the representation
// the server returns into out when out is non-nil.
type rowAPI interface {
	Select(ctx context.Context, table string, filters map[string]string, out any) error
	Insert(ctx context.Context, table string, body any, out any) error
	Update(ctx context.Context, table string, filters map[string]string, body any, out any) error
	Delete(ctx context.Context, table string, filters map[string]string) error
}

// TokenSource supplies the current access token, or "" when no session
// is active.
type TokenSource func() string

// restAPI implements rowAPI against a PostgREST-style endpoint: tables
// are URL paths, equality filters are query parameters, and mutations
// ask for the stored representation back.
type restAPI struct {
	baseURL    string
	apiKey     string
	token      TokenSource
	httpClient *http.Client
}

func newRESTAPI(baseURL, apiKey string, token TokenSource) *restAPI {
	return &restAPI{
		baseURL: baseURL,
		apiKey:  apiKey,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (a *restAPI) Select(ctx context.Context, table string, filters map[string]string, out any) error {
	return a.do(ctx, http.MethodGet, table, filters, nil, out)
}

func (a *restAPI) Insert(ctx context.Context, table string, body any, out any) error {
	return a.do(ctx, http.MethodPost, table, nil, body, out)
}

func (a *restAPI) Update(ctx context.Context, table string, filters map[string]string, body any, out any) error {
	return a.do(ctx, http.MethodPatch, table, filters, body, out)
}

func (a *restAPI) Delete(ctx context.Context, table string, filters map[string]string) error {
	return a.do(ctx, http.MethodDelete, table, filters, nil, nil)
}

func (a *restAPI) do(ctx context.Context, method, table string, filters map[string]string, body, out any) error {
	endpoint := a.baseURL + "/rest/v1/" + table
	if len(filters) > 0 {
		endpoint += "?" + encodeFilters(filters)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrRemoteRequest, "failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteRequest, "failed to build request", err)
	}
	req.Header.Set("apikey", a.apiKey)
	if token := a.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if out != nil && (method == http.MethodPost || method == http.MethodPatch) {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteRequest, fmt.Sprintf("%s %s failed", method, table), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperrors.Newf(apperrors.ErrRemoteRequest,
			"%s %s returned status %d: %s", method, table, resp.StatusCode, string(detail))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteRequest, "failed to decode response", err)
	}
	return nil
}

// encodeFilters renders equality filters in a stable column order.
func encodeFilters(filters map[string]string) string {
	cols := make([]string, 0, len(filters))
	for col := range filters {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	values := url.Values{}
	for _, col := range cols {
		values.Set(col, "eq."+filters[col])
	}
	return values.Encode()
}
