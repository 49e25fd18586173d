package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

type apiClient struct {
	baseURL string
	http    *http.Client
	user    string
	groups  string
	token   string
}

func newClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		http: &http.Client{
			Timeout: 60 * time.Second,
		},
		user:   user,
		groups: groups,
		token:  token,
	}
}

// apiError is a non-2xx answer of the server.
type apiError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal error: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set("X-Remote-User", c.user)
	}
	if c.groups != "" {
		req.Header.Set("X-Remote-Group", c.groups)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw)), Body: raw}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			// Run and audit endpoints send only "error", holding the message.
			if payload.Message != "" {
				apiErr.Code, apiErr.Message = payload.Error, payload.Message
			} else {
				apiErr.Message = payload.Error
			}
		}
		return nil, apiErr
	}
	return resp, nil
}

// call performs a request and decodes the JSON answer into v when v is
// non-nil.
func (c *apiClient) call(method, path string, body, v any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

func (c *apiClient) getJSON(path string, v any) error {
	return c.call(http.MethodGet, path, nil, v)
}

func (c *apiClient) postJSON(path string, body, v any) error {
	return c.call(http.MethodPost, path, body, v)
}

func (c *apiClient) putJSON(path string, body, v any) error {
	return c.call(http.MethodPut, path, body, v)
}

// download returns the body of path and the file name suggested by the
// server, if any.
func (c *apiClient) download(path string) ([]byte, string, error) {
	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	var name string
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}
	return data, name, nil
}
