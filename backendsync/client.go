package backendsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/staffexpense_sync/models"
)

// Config is the runtime-mutable surface of the engine: where the backend
// lives, how long calls may take and how hard to push against its rate
// limits. Pacing fields are zeroed in tests.
type Config struct {
	BaseURL         string        `validate:"required,url"`
	Token           string
	Timeout         time.Duration `validate:"gt=0"`
	UploadTimeout   time.Duration `validate:"gt=0"`
	RetryAttempts   int           `validate:"gte=0"`
	RateLimitPerMin int           `validate:"gte=0"`

	// Deliberate pacing between entity kinds and between items of the
	// image-bearing kinds, to stay under the backend's limiter.
	KindPause  time.Duration
	ItemPause  time.Duration
	ImagePause time.Duration
}

// ConfigFromEnv builds a Config from the environment, with the defaults the
// mobile shell ships with.
func ConfigFromEnv() Config {
	cfg := Config{
		BaseURL:         strings.TrimSpace(os.Getenv("BACKEND_BASE_URL")),
		Token:           strings.TrimSpace(os.Getenv("BACKEND_SESSION_TOKEN")),
		Timeout:         15 * time.Second,
		UploadTimeout:   45 * time.Second,
		RetryAttempts:   2,
		RateLimitPerMin: 60,
		KindPause:       400 * time.Millisecond,
		ItemPause:       150 * time.Millisecond,
		ImagePause:      1200 * time.Millisecond,
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_UPLOAD_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.UploadTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_RETRY_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("BACKEND_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPerMin = n
		}
	}
	return cfg
}

var validate = validator.New()

const (
	apiPathEmployees         = "/v1/employees"
	apiPathMileageEntries    = "/v1/mileage-entries"
	apiPathReceipts          = "/v1/receipts"
	apiPathTimeEntries       = "/v1/time-entries"
	apiPathDailyDescriptions = "/v1/daily-descriptions"
)

func kindPath(entityKind string) (string, bool) {
	switch entityKind {
	case models.KindEmployee:
		return apiPathEmployees, true
	case models.KindMileageEntry:
		return apiPathMileageEntries, true
	case models.KindReceipt:
		return apiPathReceipts, true
	case models.KindTimeEntry:
		return apiPathTimeEntries, true
	case models.KindDailyDescription:
		return apiPathDailyDescriptions, true
	}
	return "", false
}

type apiClient struct {
	baseURL       string
	token         string
	http          *http.Client
	uploadHTTP    *http.Client
	limiter       <-chan time.Time
	retryAttempts int
	log           *logrus.Logger
}

func newAPIClient(cfg Config, log *logrus.Logger) (*apiClient, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, err
	}

	var limiter <-chan time.Time
	if cfg.RateLimitPerMin > 0 {
		limiter = time.Tick(time.Minute / time.Duration(cfg.RateLimitPerMin))
	}

	return &apiClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		http:          &http.Client{Timeout: cfg.Timeout},
		uploadHTTP:    &http.Client{Timeout: cfg.UploadTimeout},
		limiter:       limiter,
		retryAttempts: cfg.RetryAttempts,
		log:           log,
	}, nil
}

func (c *apiClient) wait() {
	if c.limiter != nil {
		<-c.limiter
	}
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do runs one round trip and maps the outcome onto the error taxonomy.
func (c *apiClient) do(client *http.Client, req *http.Request) ([]byte, error) {
	c.wait()
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// getJSON reads a resource, retrying transient transport failures up to the
// configured attempt count.
func (c *apiClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := path
	if len(params) > 0 {
		endpoint = path + "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		body, err := c.do(c.http, req)
		if err == nil {
			if out == nil {
				return nil
			}
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			return dec.Decode(out)
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
	}
	return lastErr
}

// putJSON is the upsert verb: the record id rides in the path, the backend
// inserts or updates by that id.
func (c *apiClient) putJSON(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(c.http, req)
	return err
}

func (c *apiClient) deleteJSON(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	_, err = c.do(c.http, req)
	return err
}

// postMultipart uploads one file under the longer upload timeout and returns
// the raw response body.
func (c *apiClient) postMultipart(ctx context.Context, path, fieldName, fileName, mimeType string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+fieldName+`"; filename="`+fileName+`"`)
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(c.uploadHTTP, req)
}

func isTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Kind == KindNetwork || apiErr.Kind == KindTimeout
}
