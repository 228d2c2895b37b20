package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// API is a client for the HTTP surface. Reads and writes go over HTTP;
// realtime updates arrive separately via Conn.
type API struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewAPI(baseURL, token string) *API {
	return &API{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

type SendMessageRequest struct {
	Content       string `json:"content"`
	AttachmentUrl string `json:"attachment_url,omitempty"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := a.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// Messages fetches one page of room history, newest first. An empty
// cursor fetches the newest page; limit <= 0 uses the server default.
func (a *API) Messages(ctx context.Context, room RoomKey, cursor string, limit int) (MessagePage, error) {
	q := url.Values{}
	q.Set("room_kind", string(room.Kind))
	q.Set("room_id", room.Id)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var page MessagePage
	err := a.do(ctx, http.MethodGet, "/api/messages", q, nil, &page)
	return page, err
}

func (a *API) Send(ctx context.Context, room RoomKey, req SendMessageRequest) (Message, error) {
	q := url.Values{}
	q.Set("room_kind", string(room.Kind))
	q.Set("room_id", room.Id)

	var msg Message
	err := a.do(ctx, http.MethodPost, "/api/messages", q, req, &msg)
	return msg, err
}

func (a *API) Edit(ctx context.Context, id int64, content string) (Message, error) {
	var msg Message
	err := a.do(ctx, http.MethodPatch, "/api/messages/"+strconv.FormatInt(id, 10), nil,
		map[string]string{"content": content}, &msg)
	return msg, err
}

// Delete tombstones a message. The server returns the tombstone, which
// also arrives as an updated event on the room stream.
func (a *API) Delete(ctx context.Context, id int64) (Message, error) {
	var msg Message
	err := a.do(ctx, http.MethodDelete, "/api/messages/"+strconv.FormatInt(id, 10), nil, nil, &msg)
	return msg, err
}
