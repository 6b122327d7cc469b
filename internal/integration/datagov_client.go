// Package integration handles external service interactions
package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/juju/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/config"
	"github.com/nrega-mitra/backend/internal/entities"
	"github.com/nrega-mitra/backend/internal/logging"
	"github.com/nrega-mitra/backend/internal/metrics"
)

// DefaultBaseURL is the data.gov.in resource endpoint
const DefaultBaseURL = "https://api.data.gov.in/resource/"

// maxErrorBody bounds how much of an error response is read and reported
const maxErrorBody = 64 << 10

// ClientOptions configures a DataGovClient
type ClientOptions struct {
	BaseURL       string
	ResourceID    string
	APIKey        string
	PageLimit     int
	MaxPages      int
	Retries       int
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// DataGovClient fetches MGNREGA district records from the data.gov.in API
type DataGovClient struct {
	baseURL       string
	resourceID    string
	apiKey        string
	limit         int
	maxPages      int
	retries       int
	retryInterval time.Duration
	httpClient    *http.Client
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewDataGovClient creates a new data API client
func NewDataGovClient(opts ClientOptions) *DataGovClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 10000
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: time.Minute}
	}
	return &DataGovClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/") + "/",
		resourceID:    opts.ResourceID,
		apiKey:        opts.APIKey,
		limit:         opts.PageLimit,
		maxPages:      opts.MaxPages,
		retries:       opts.Retries,
		retryInterval: opts.RetryInterval,
		httpClient:    opts.HTTPClient,
		logger:        logging.OrNop(opts.Logger).Named("datagov"),
		metrics:       opts.Metrics,
	}
}

// NewDataGovClientFromConfig wires a client from application settings
func NewDataGovClientFromConfig(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *DataGovClient {
	return NewDataGovClient(ClientOptions{
		BaseURL:    cfg.DataAPIBaseURL,
		ResourceID: cfg.ResourceID,
		APIKey:     cfg.APIKey,
		PageLimit:  cfg.PageLimit,
		MaxPages:   cfg.MaxPages,
		Retries:    cfg.FetchRetries,
		HTTPClient: &http.Client{Timeout: cfg.FetchTimeout},
		Logger:     logger,
		Metrics:    m,
	})
}

// FetchRecords retrieves every record of the resource, page by page
func (c *DataGovClient) FetchRecords(ctx context.Context) ([]entities.NregaRecord, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveFetch(time.Since(start)) }()

	var all []entities.NregaRecord
	offset := 0
	for page := 0; page < c.maxPages; page++ {
		records, total, err := c.fetchPageWithRetry(ctx, offset)
		if err != nil {
			return nil, errors.Annotatef(err, "fetching page at offset %d", offset)
		}
		all = append(all, records...)
		c.logger.Debug("fetched page",
			zap.Int("page", page),
			zap.Int("offset", offset),
			zap.Int("records", len(records)),
			zap.Int("total", total))

		offset += len(records)
		if len(records) < c.limit || (total > 0 && offset >= total) {
			return all, nil
		}
	}
	c.logger.Warn("stopped paging at the page limit, upstream may hold more records",
		zap.Int("max_pages", c.maxPages),
		zap.Int("records", len(all)))
	return all, nil
}

func (c *DataGovClient) fetchPageWithRetry(ctx context.Context, offset int) ([]entities.NregaRecord, int, error) {
	var (
		records []entities.NregaRecord
		total   int
	)
	operation := func() error {
		var err error
		records, total, err = c.fetchPage(ctx, offset)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.retries)), ctx)

	err := backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
		c.logger.Warn("upstream request failed, retrying",
			zap.Error(err),
			zap.Duration("wait", wait),
			zap.Int("offset", offset))
	})
	return records, total, err
}

func (c *DataGovClient) fetchPage(ctx context.Context, offset int) ([]entities.NregaRecord, int, error) {
	query := url.Values{}
	query.Set("api-key", c.apiKey)
	query.Set("format", "json")
	query.Set("limit", strconv.Itoa(c.limit))
	query.Set("offset", strconv.Itoa(offset))
	endpoint := c.baseURL + url.PathEscape(c.resourceID) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, backoff.Permanent(errors.Annotate(err, "building request"))
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Info("sending request to data API",
		zap.String("resource", c.resourceID),
		zap.Int("limit", c.limit),
		zap.Int("offset", offset))
	res, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, backoff.Permanent(ctx.Err())
		}
		return nil, 0, errors.Annotate(err, "failed to reach the data API")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		err := errors.Errorf("unexpected status %s: %s", res.Status, DescribeErrorBody(body))
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
			return nil, 0, backoff.Permanent(err)
		}
		return nil, 0, err
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, 0, errors.Annotate(err, "reading response body")
	}
	records, total, err := ParseRecords(body)
	if err != nil {
		return nil, 0, backoff.Permanent(err)
	}
	return records, total, nil
}

// ParseRecords decodes a data API response. Field values are kept as strings,
// numbers become their decimal text, and fields outside the record are dropped.
// The second result is the upstream "total" count, or 0 when absent.
func ParseRecords(body []byte) ([]entities.NregaRecord, int, error) {
	if !gjson.ValidBytes(body) {
		return nil, 0, errors.NotValidf("data API response (%s)", DescribeErrorBody(body))
	}
	doc := gjson.ParseBytes(body)

	if status := doc.Get("status"); status.Exists() && strings.EqualFold(status.String(), "error") {
		return nil, 0, errors.Errorf("data API error: %s", firstNonEmpty(doc.Get("message").String(), "unknown"))
	}
	recs := doc.Get("records")
	if !recs.Exists() {
		return nil, 0, errors.Errorf("data API response without records: %s",
			firstNonEmpty(doc.Get("message").String(), doc.Get("error").String(), "no message"))
	}
	if !recs.IsArray() {
		return nil, 0, errors.NotValidf("records of type %s", recs.Type)
	}

	var records []entities.NregaRecord
	recs.ForEach(func(_, item gjson.Result) bool {
		var rec entities.NregaRecord
		item.ForEach(func(key, value gjson.Result) bool {
			if value.Type != gjson.Null {
				rec.SetField(key.String(), value.String())
			}
			return true
		})
		records = append(records, rec)
		return true
	})
	return records, int(doc.Get("total").Int()), nil
}

// DescribeErrorBody produces a short human-readable description of an error
// response, which the data API returns as JSON or as an HTML gateway page.
func DescribeErrorBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "empty body"
	}

	if trimmed[0] == '{' && gjson.ValidBytes(trimmed) {
		doc := gjson.ParseBytes(trimmed)
		if msg := firstNonEmpty(doc.Get("message").String(), doc.Get("error").String()); msg != "" {
			return msg
		}
	}

	if trimmed[0] == '<' {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
		if err == nil {
			title := collapse(doc.Find("title").First().Text())
			heading := collapse(doc.Find("h1").First().Text())
			switch {
			case title != "" && heading != "" && heading != title:
				return title + ": " + heading
			case title != "":
				return title
			case heading != "":
				return heading
			}
			if text := collapse(doc.Find("body").Text()); text != "" {
				return truncate(text, 200)
			}
		}
	}
	return truncate(collapse(string(trimmed)), 200)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
