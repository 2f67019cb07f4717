// Package source retrieves yearly registry extracts from the upstream
// statistics file server and classifies the outcome of each attempt.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultURLTemplate is the upstream file location, parameterized twice by
// the short Buddhist-era year.
const DefaultURLTemplate = "https://stat.bora.dopa.go.th/new_stat/file/%d/stat_c%d.txt"

// Status classifies one fetch attempt.
type Status int

const (
	// StatusSuccess means a 2xx response; Outcome.Blob holds the body.
	StatusSuccess Status = iota
	// StatusNotFound means the server answered with a non-2xx status,
	// i.e. the year has not been published. Expected, not an error.
	StatusNotFound
	// StatusTransient means the request never produced a usable response
	// (timeout, connection error, truncated body).
	StatusTransient
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "not-found"
	case StatusTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Outcome is the result of a single fetch attempt for one calendar year.
type Outcome struct {
	Status Status
	Blob   string // trimmed response body, set on success
	Reason string // transport failure description, set on transient
}

// Client fetches one year's raw extract per call. It performs exactly one
// network attempt; retry policy belongs to the caller.
type Client struct {
	httpClient  *http.Client
	urlTemplate string
	logger      *zap.Logger
}

// NewClient creates a fetch client. An empty urlTemplate selects the
// upstream default.
func NewClient(timeout time.Duration, urlTemplate string, logger *zap.Logger) *Client {
	if urlTemplate == "" {
		urlTemplate = DefaultURLTemplate
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		urlTemplate: urlTemplate,
		logger:      logger,
	}
}

// URLForYear builds the request target for one calendar year.
func (c *Client) URLForYear(year int) string {
	sourceYear := ToSourceYear(year)
	return fmt.Sprintf(c.urlTemplate, sourceYear, sourceYear)
}

// FetchYear retrieves the raw extract for one calendar year. Any non-2xx
// status is treated as "year not available"; transport-level failures are
// reported as transient so the caller can decide whether to keep scanning.
func (c *Client) FetchYear(ctx context.Context, year int) Outcome {
	url := c.URLForYear(year)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{Status: StatusTransient, Reason: err.Error()}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("fetch attempt failed",
			zap.Int("year", year),
			zap.String("url", url),
			zap.Error(err))
		return Outcome{Status: StatusTransient, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		c.logger.Info("year not available upstream",
			zap.Int("year", year),
			zap.Int("status", resp.StatusCode))
		return Outcome{Status: StatusNotFound}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("fetch body read failed",
			zap.Int("year", year),
			zap.Error(err))
		return Outcome{Status: StatusTransient, Reason: err.Error()}
	}

	return Outcome{
		Status: StatusSuccess,
		Blob:   strings.Trim(string(body), " \r\n"),
	}
}
