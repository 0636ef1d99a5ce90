package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"MicrowireQC/internal/config"
	"MicrowireQC/internal/domain"
	"MicrowireQC/internal/ports"
)

// PassLabel is the prediction the model returns for an acceptable batch.
const PassLabel = "合格"

// PredictorError is any failure to obtain a usable prediction.
type PredictorError struct {
	Op  string
	Err error
}

func (e *PredictorError) Error() string {
	return fmt.Sprintf("predictor %s: %v", e.Op, e.Err)
}

func (e *PredictorError) Unwrap() error {
	return e.Err
}

// Client talks to the external quality prediction service.
type Client struct {
	endpoint    string
	predictPath string
	healthPath  string
	apiKey      string
	timeout     time.Duration
	http        *http.Client
}

var _ ports.Predictor = (*Client)(nil)
var _ ports.HealthProber = (*Client)(nil)

// NewClient creates a reusable HTTP client with bounded connect and read timeouts.
func NewClient(cfg config.PredictorConfig) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		endpoint:    strings.TrimSuffix(cfg.Endpoint, "/"),
		predictPath: cfg.PredictPath,
		healthPath:  cfg.HealthPath,
		apiKey:      cfg.APIKey,
		timeout:     cfg.Timeout,
		http:        &http.Client{Transport: transport},
	}
}

type predictRequest struct {
	ScenarioCode  string   `json:"scenario_code"`
	Conductivity  *float64 `json:"conductivity"`
	Extensibility *float64 `json:"extensibility"`
	Diameter      *float64 `json:"diameter"`
}

type predictResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Prediction string   `json:"prediction"`
		Confidence *float64 `json:"confidence"`
	} `json:"data"`
	Error string `json:"error"`
}

// Predict classifies a record. Weight is not part of the model's input contract.
func (c *Client) Predict(ctx context.Context, record domain.MeasurementRecord) (domain.Prediction, error) {
	payload := predictRequest{
		ScenarioCode:  record.Scenario(),
		Conductivity:  asFloat(record.Conductivity),
		Extensibility: asFloat(record.Extensibility),
		Diameter:      asFloat(record.Diameter),
	}

	var resp predictResponse
	if err := c.post(ctx, c.predictPath, payload, &resp); err != nil {
		return domain.Prediction{}, &PredictorError{Op: "predict", Err: err}
	}

	if !resp.Success {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "unsuccessful response"
		}
		return domain.Prediction{}, &PredictorError{Op: "predict", Err: errors.New(reason)}
	}
	if resp.Data == nil {
		return domain.Prediction{}, &PredictorError{Op: "predict", Err: errors.New("response without data")}
	}

	label := strings.TrimSpace(resp.Data.Prediction)
	if label == "" {
		return domain.Prediction{}, &PredictorError{Op: "predict", Err: errors.New("response without prediction label")}
	}
	if resp.Data.Confidence == nil {
		return domain.Prediction{}, &PredictorError{Op: "predict", Err: errors.New("response without confidence")}
	}
	confidence := *resp.Data.Confidence
	if confidence < 0 || confidence > 1 {
		return domain.Prediction{}, &PredictorError{Op: "predict", Err: fmt.Errorf("confidence %v outside [0,1]", confidence)}
	}

	verdict := domain.VerdictFail
	if label == PassLabel {
		verdict = domain.VerdictPass
	}

	return domain.Prediction{Verdict: verdict, Label: label, Confidence: confidence}, nil
}

// Health returns nil when the service answers 200 on the health path.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+c.healthPath, nil)
	if err != nil {
		return &PredictorError{Op: "health", Err: fmt.Errorf("new request: %w", err)}
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &PredictorError{Op: "health", Err: fmt.Errorf("do request: %w", err)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if err := resp.Body.Close(); err != nil {
		return &PredictorError{Op: "health", Err: fmt.Errorf("close response body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &PredictorError{Op: "health", Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func asFloat(v decimal.NullDecimal) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Decimal.InexactFloat64()
	return &f
}
