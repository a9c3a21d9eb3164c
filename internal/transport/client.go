package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/honeyhiveai/honeyhive-go/internal/envprofile"
	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/internal/retry"
	"github.com/honeyhiveai/honeyhive-go/internal/safelog"
)

// batchPath is the events-API ingestion route.
const batchPath = "/events/batch"

// ClientOptions configures an EventsClient.
type ClientOptions struct {
	ServerURL string
	APIKey    string
	Profile   envprofile.Profile
	Log       *safelog.Logger
	Metrics   *metrics.Pipeline

	// DisableHTTPTracing turns off the httptrace connection diagnostics
	// attached to each request.
	DisableHTTPTracing bool

	// HTTPClient overrides the tuned default client. Tests use this.
	HTTPClient *http.Client
}

// EventsClient posts event batches to the HoneyHive events API with
// bearer auth, profile-tuned pooling, and exponential-backoff retries.
type EventsClient struct {
	url     string
	apiKey  string
	client  *http.Client
	retry   retry.Config
	log     *safelog.Logger
	metrics *metrics.Pipeline
	trace   bool
}

// NewEventsClient builds a client whose connection pool and retry budget
// come from the environment profile.
func NewEventsClient(opts ClientOptions) *EventsClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: opts.Profile.ExportTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        opts.Profile.MaxIdleConns,
				MaxIdleConnsPerHost: opts.Profile.MaxIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &EventsClient{
		url:    opts.ServerURL + batchPath,
		apiKey: opts.APIKey,
		client: httpClient,
		retry: retry.Config{
			MaxAttempts: opts.Profile.RetryMax + 1,
			BaseDelay:   opts.Profile.RetryBaseDelay,
			MaxDelay:    5 * time.Second,
			Factor:      2.0,
			Jitter:      true,
		},
		log:     opts.Log,
		metrics: opts.Metrics,
		trace:   !opts.DisableHTTPTracing,
	}
}

type batchPayload struct {
	Events []*Event `json:"events"`
}

// SendBatch posts the events as one request, retrying transient failures.
// 4xx responses other than 429 are permanent; the batch is abandoned.
func (c *EventsClient) SendBatch(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}
	for _, ev := range events {
		ev.NormalizeSections()
	}
	body, err := json.Marshal(batchPayload{Events: events})
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode batch: %w", err))
	}

	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.post(ctx, body); err != nil {
			if c.metrics != nil {
				c.metrics.ExportErrors.Inc()
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.ExportedEvents.Add(float64(len(events)))
	}
	c.log.Debug("batch delivered", "events", len(events))
	return nil
}

func (c *EventsClient) post(ctx context.Context, body []byte) error {
	if c.trace {
		ctx = httptrace.WithClientTrace(ctx, c.clientTrace())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("events api: rate limited")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("events api: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("events api: status %d", resp.StatusCode)
	}
}

// clientTrace surfaces connection reuse at debug level, which is the
// signal for diagnosing pool exhaustion under load.
func (c *EventsClient) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			c.log.Debug("events api connection", "reused", info.Reused, "idle", info.WasIdle)
		},
	}
}
