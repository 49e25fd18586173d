// Package timestamp obtains RFC 3161 timestamp tokens over hash chain results
// from an ordered list of Time-Stamping Authorities and verifies them.
package timestamp

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"encoding/asn1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/digitorus/timestamp"
)

const (
	contentTypeQuery = "application/timestamp-query"
	maxResponseSize  = 1 << 20
)

var (
	// ErrTimestampingFailed is the cause of every error returned when no TSA
	// produced a usable token.
	ErrTimestampingFailed = errors.New("timestamping failed")

	// ErrNoTSAConfigured is returned when the URL list is empty.
	ErrNoTSAConfigured = errors.New("no timestamping authority configured")
)

// FailedError reports that every TSA failed. Errors holds the outcome per URL
// and Last the error of the final attempt.
type FailedError struct {
	Errors map[string]error
	Last   error
}

func (e *FailedError) Error() string {
	urls := make([]string, 0, len(e.Errors))
	for u := range e.Errors {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return fmt.Sprintf("timestamping failed on %d TSA(s) [%s]: %v", len(urls), strings.Join(urls, ", "), e.Last)
}

// Unwrap exposes both ErrTimestampingFailed and the last underlying error.
func (e *FailedError) Unwrap() []error {
	return []error{ErrTimestampingFailed, e.Last}
}

// Token is a verified timestamp token.
type Token struct {
	DER          []byte
	Time         time.Time
	SerialNumber *big.Int
	URL          string
}

// Client requests timestamps over HTTP.
type Client struct {
	http    *http.Client
	cfg     *Config
	trust   *TrustStore
	logger  *slog.Logger
	timeout time.Duration
}

// NewClient creates a Client. Tokens are verified against trust.
func NewClient(cfg *Config, trust *TrustStore, logger *slog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	transport.ResponseHeaderTimeout = cfg.ReadTimeout
	return &Client{
		http:    &http.Client{Transport: transport},
		cfg:     cfg,
		trust:   trust,
		logger:  logger,
		timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}

// URLs returns the configured TSA URLs.
func (c *Client) URLs() []string { return c.cfg.URLs }

// RequestTimestamp asks each TSA in urls, in order, to timestamp chainResult
// and returns the first verified token. Each attempt has its own timeout.
func (c *Client) RequestTimestamp(ctx context.Context, chainResult []byte, urls []string) (*Token, error) {
	if len(urls) == 0 {
		return nil, ErrNoTSAConfigured
	}
	failed := &FailedError{Errors: make(map[string]error, len(urls))}
	for _, url := range urls {
		tok, err := c.attempt(ctx, url, chainResult)
		if err == nil {
			return tok, nil
		}
		c.logger.Warn("TSA request failed", "url", url, "error", err)
		failed.Errors[url] = err
		failed.Last = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, failed
}

func (c *Client) attempt(ctx context.Context, url string, chainResult []byte) (*Token, error) {
	nonce, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 63))
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	req := timestamp.Request{
		HashAlgorithm: crypto.SHA256,
		HashedMessage: chainResult,
		Nonce:         nonce,
		Certificates:  true,
	}
	body, err := req.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeQuery)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TSA returned HTTP %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if _, err := timestamp.ParseResponse(payload); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	der, err := tokenFromResponse(payload)
	if err != nil {
		return nil, err
	}
	ts, err := c.trust.verify(der, chainResult)
	if err != nil {
		return nil, err
	}
	if ts.Nonce != nil && ts.Nonce.Cmp(nonce) != 0 {
		return nil, errors.New("token nonce does not match request")
	}
	return &Token{DER: der, Time: ts.Time, SerialNumber: ts.SerialNumber, URL: url}, nil
}

// timeStampResp mirrors the RFC 3161 TimeStampResp envelope.
type timeStampResp struct {
	Status asn1.RawValue
	Token  asn1.RawValue `asn1:"optional"`
}

func tokenFromResponse(payload []byte) ([]byte, error) {
	var resp timeStampResp
	if _, err := asn1.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response envelope: %w", err)
	}
	if len(resp.Token.FullBytes) == 0 {
		return nil, errors.New("response carries no token")
	}
	return resp.Token.FullBytes, nil
}
