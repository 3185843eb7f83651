package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultIdleConns        = 100
	defaultIdleConnsPerHost = 10
	defaultIdleConnTimeout  = 90 * time.Second
)

// NewHTTPClient returns a client with pooled transport defaults. timeout
// bounds every single request, response body included.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = defaultIdleConns
	transport.MaxIdleConnsPerHost = defaultIdleConnsPerHost
	transport.IdleConnTimeout = defaultIdleConnTimeout
	transport.ResponseHeaderTimeout = timeout

	return &http.Client{Timeout: timeout, Transport: transport}
}

// StatusError reports an unexpected HTTP response status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// IsRetryableHTTP treats transport failures, timeouts, 408, 429 and 5xx as
// transient. Other 4xx responses will not change on retry.
func IsRetryableHTTP(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusRequestTimeout || se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	if errors.Is(err, ErrBodyTooLarge) || errors.Is(err, context.Canceled) {
		return false
	}
	return err != nil
}

// ErrBodyTooLarge is returned when a response exceeds its size cap.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// ReadLimited reads at most limit bytes from r, failing if more remain.
func ReadLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
