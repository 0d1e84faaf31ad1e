package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreamware/disthist/internal/wire"
)

// StatusError is returned when a peer answers with a non-2xx status.
type StatusError struct {
	URL  string
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Msg)
}

// Client wraps an http.Client with the JSON and slice helpers members use to
// talk to each other.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a client whose requests time out after timeout. A zero
// timeout means requests wait as long as their context allows.
func NewClient(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// DefaultClient is used for control-plane calls such as registration.
var DefaultClient = NewClient(5 * time.Second)

func PostJSON(ctx context.Context, url string, body any, out any) error {
	return DefaultClient.PostJSON(ctx, url, body, out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	return DefaultClient.GetJSON(ctx, url, out)
}

func (c *Client) PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostSlice streams samples to url in wire format. The body is encoded while
// it is sent, so the slice is never copied in full.
func (c *Client) PostSlice(ctx context.Context, url, runID string, offset int64, samples []float32) error {
	sum := wire.Checksum(samples)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(wire.Encode(pw, samples))
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(samples)) * wire.SampleSize
	req.Header.Set("Content-Type", wire.ContentType)
	req.Header.Set(wire.HeaderRunID, runID)
	req.Header.Set(wire.HeaderOffset, strconv.FormatInt(offset, 10))
	req.Header.Set(wire.HeaderCount, strconv.Itoa(len(samples)))
	req.Header.Set(wire.HeaderChecksum, wire.FormatChecksum(sum))
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{URL: req.URL.String(), Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
