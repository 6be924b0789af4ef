// Package registry is a read-only client for the external historical
// performance registry.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
)

const maxBodyBytes = 4 << 20

// Runner is one registry search hit
type Runner struct {
	PersonID     int64   `json:"PersonID"`
	Lastname     string  `json:"Lastname"`
	Firstname    string  `json:"Firstname"`
	YOB          flexInt `json:"YOB"`
	Nation       string  `json:"Nation"`
	Sex          string  `json:"Sex"`
	PersonalBest string  `json:"PersonalBest"`
}

// SearchResponse is the registry search payload
type SearchResponse struct {
	List         []Runner `json:"list"`
	TotalRecords int      `json:"totalrecords"`
}

// Profile is the header of a registry runner profile
type Profile struct {
	PersonID  int64
	Lastname  string
	Firstname string
	YOB       int
	Nation    string
	Sex       string
}

type profileResponse struct {
	PersonHeader struct {
		PersonID  flexInt `json:"PersonID"`
		Lastname  string  `json:"Lastname"`
		Firstname string  `json:"Firstname"`
		YOB       flexInt `json:"YOB"`
		Nation    string  `json:"Nation"`
		Sex       string  `json:"Sex"`
	} `json:"PersonHeader"`
}

// Client queries the registry over HTTP
type Client struct {
	http        *RateLimitedHTTPClient
	baseURL     string
	searchPath  string
	profilePath string
	apiKey      string
	userAgent   string
	logger      *logrus.Entry
}

// NewClient creates a registry client from configuration
func NewClient(cfg *config.RegistryConfig, logger *logrus.Logger) *Client {
	httpCfg := DefaultHTTPClientConfig()
	httpCfg.Timeout = cfg.Timeout()
	httpCfg.MaxRetries = cfg.MaxRetries
	httpCfg.RateLimit = cfg.RateLimit
	if cfg.CircuitBreakerMax > 0 {
		httpCfg.CircuitBreakerMax = cfg.CircuitBreakerMax
	}
	return NewClientWithHTTP(cfg, NewRateLimitedHTTPClient(httpCfg, logger), logger)
}

// NewClientWithHTTP creates a registry client on top of an existing HTTP client
func NewClientWithHTTP(cfg *config.RegistryConfig, httpClient *RateLimitedHTTPClient, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "lapwatch/1.0"
	}
	return &Client{
		http:        httpClient,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		searchPath:  cfg.SearchPath,
		profilePath: cfg.ProfilePath,
		apiKey:      cfg.APIKey,
		userAgent:   userAgent,
		logger:      logger.WithField("component", "registry"),
	}
}

// Search looks runners up by name and gender
func (c *Client) Search(ctx context.Context, lastName, firstName string, gender models.Gender) ([]Runner, error) {
	params := url.Values{}
	params.Set("lastname", strings.TrimSpace(lastName))
	params.Set("firstname", strings.TrimSpace(firstName))
	if gender != "" {
		params.Set("sex", string(gender))
	}

	var resp SearchResponse
	if err := c.getJSON(ctx, "search", c.searchPath, params, &resp); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"lastname": lastName,
		"hits":     len(resp.List),
	}).Debug("Registry search completed")
	return resp.List, nil
}

// GetProfile fetches the profile header of one runner
func (c *Client) GetProfile(ctx context.Context, personID int64) (*Profile, error) {
	params := url.Values{}
	params.Set("runner", strconv.FormatInt(personID, 10))
	params.Set("plain", "1")

	var resp profileResponse
	if err := c.getJSON(ctx, "profile", c.profilePath, params, &resp); err != nil {
		return nil, err
	}

	h := resp.PersonHeader
	if h.Lastname == "" && h.Firstname == "" {
		return nil, &Error{Endpoint: "profile", StatusCode: http.StatusNotFound, Message: fmt.Sprintf("runner %d not found", personID)}
	}
	return &Profile{
		PersonID:  personID,
		Lastname:  h.Lastname,
		Firstname: h.Firstname,
		YOB:       int(h.YOB),
		Nation:    h.Nation,
		Sex:       h.Sex,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordRegistryRequest(endpoint, status, time.Since(start).Seconds())
	}()

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Get(ctx, c.baseURL+path+"?"+params.Encode(), header)
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Endpoint: endpoint, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Endpoint: endpoint, Message: "malformed response", Cause: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	return nil
}

// Check fails while the circuit breaker is open
func (c *Client) Check(_ context.Context) error {
	if c.http.IsOpen() {
		return ErrCircuitOpen
	}
	return nil
}

// Close releases idle connections
func (c *Client) Close() error {
	return c.http.Close()
}

// ParsePersonalBestKm extracts the distance from a registry performance such
// as "245.123 km". It returns nil for times or empty values.
func ParsePersonalBestKm(s string) *float64 {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || strings.Contains(s, ":") {
		return nil
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "km"))
	s = strings.ReplaceAll(s, ",", ".")

	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return nil
	}
	km, _ := d.Round(3).Float64()
	return &km
}

// flexInt decodes integers the registry sends as numbers or strings.
// Placeholders such as "0000" or "&nbsp;" decode to zero.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	i, err := n.Int64()
	if err != nil {
		fl, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		i = int64(fl)
	}
	*f = flexInt(i)
	return nil
}

// Int returns the decoded value
func (f flexInt) Int() int {
	return int(f)
}
