package backend

import (
	"net/http"
	"time"

	"browser-session/internal/application/port/output"
)

// loggingTransport logs method, path and status of every backend call. Bodies
// are not logged: they carry cookies and storage.
type loggingTransport struct {
	base   http.RoundTripper
	logger output.LoggerPort
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	if err != nil {
		t.logger.Debug("HTTP request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"error", err,
			"durationMs", time.Since(start).Milliseconds(),
		)
		return resp, err
	}

	t.logger.Debug("HTTP response",
		"method", req.Method,
		"path", req.URL.Path,
		"statusCode", resp.StatusCode,
		"durationMs", time.Since(start).Milliseconds(),
	)
	return resp, nil
}
