package eden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval is the cadence between status queries.
	DefaultPollInterval = 2 * time.Second
	// defaultTimeout bounds a single HTTP exchange with the gateway or storage.
	defaultTimeout = 60 * time.Second
	// maxErrorBody caps how much of a failed response body ends up in errors.
	maxErrorBody = 512
)

// Client talks to the Eden gateway and artifact storage. It is safe for
// concurrent use; many creation loops share one Client.
type Client struct {
	gatewayURL  string
	storageURL  string
	pollPath    string
	credentials Credentials
	http        *http.Client
	logger      *zap.Logger
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	GatewayURL  string // e.g. https://gateway.eden.art
	StorageURL  string // artifact base URL including bucket
	PollPath    string // status path template containing {task}; defaults to /poll/{task}
	Credentials Credentials
	HTTPClient  *http.Client  // optional; defaults to a client with Timeout
	Timeout     time.Duration // per-request timeout for the default client
	Logger      *zap.Logger   // defaults to zap.NewNop()
}

// New creates a Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.GatewayURL == "" {
		return nil, fmt.Errorf("eden: gateway url is required")
	}
	if opts.StorageURL == "" {
		return nil, fmt.Errorf("eden: storage url is required")
	}
	pollPath := opts.PollPath
	if pollPath == "" {
		pollPath = "/poll/{task}"
	}
	if !strings.Contains(pollPath, "{task}") {
		return nil, fmt.Errorf("eden: poll path %q must contain {task}", pollPath)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gatewayURL:  strings.TrimRight(opts.GatewayURL, "/"),
		storageURL:  strings.TrimRight(opts.StorageURL, "/"),
		pollPath:    pollPath,
		credentials: opts.Credentials,
		http:        hc,
		logger:      logger,
	}, nil
}

// creationRequest is the request_creation body.
type creationRequest struct {
	Credentials Credentials `json:"credentials"`
	Source      Source      `json:"source"`
	Config      Config      `json:"config"`
}

// creationResponse accepts both key spellings the gateway has used.
type creationResponse struct {
	TaskID    string `json:"task_id"`
	TaskIDAlt string `json:"taskId"`
}

// Submit sends req to the gateway and returns the new task's ID. Failures
// are returned as *TransportError, *AuthError or *ProtocolError and are
// never retried here.
func (c *Client) Submit(ctx context.Context, req Request) (TaskID, error) {
	if req.Config == nil {
		return "", fmt.Errorf("eden: submit: config is required")
	}
	body := creationRequest{
		Credentials: c.credentials,
		Source:      req.Source,
		Config:      req.Config,
	}
	raw, err := c.do(ctx, "request_creation", http.MethodPost, c.gatewayURL+"/request_creation", body)
	if err != nil {
		return "", err
	}
	var resp creationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &ProtocolError{Reason: fmt.Sprintf("decode request_creation response: %v", err)}
	}
	id := resp.TaskID
	if id == "" {
		id = resp.TaskIDAlt
	}
	if id == "" {
		return "", &ProtocolError{Reason: "request_creation response has no task id"}
	}
	c.logger.Debug("creation submitted",
		zap.String("task_id", id),
		zap.String("mode", string(req.Config.Mode())),
		zap.String("author", req.Source.AuthorID))
	return TaskID(id), nil
}

// Status queries the gateway once for task's current status.
func (c *Client) Status(ctx context.Context, task TaskID) (Status, error) {
	path := strings.ReplaceAll(c.pollPath, "{task}", url.PathEscape(string(task)))
	raw, err := c.do(ctx, "poll", http.MethodGet, c.gatewayURL+path, nil)
	if err != nil {
		return Status{}, err
	}
	return DecodeStatus(raw)
}

// Stat is a feedback counter on a finished creation.
type Stat string

const (
	StatBurn   Stat = "burn"
	StatPraise Stat = "praise"
)

// StatUpdate is the update_stats body.
type StatUpdate struct {
	Creation  string `json:"creation"`
	Stat      Stat   `json:"stat"`
	Operation string `json:"operation"`
	Address   string `json:"address"`
}

// UpdateStats increments stat on the creation identified by sha on behalf
// of userID. The response body is ignored.
func (c *Client) UpdateStats(ctx context.Context, sha string, stat Stat, userID string) error {
	if sha == "" {
		return fmt.Errorf("eden: update_stats: creation sha is required")
	}
	_, err := c.do(ctx, "update_stats", http.MethodPost, c.gatewayURL+"/update_stats", StatUpdate{
		Creation:  sha,
		Stat:      stat,
		Operation: "increase",
		Address:   userID,
	})
	return err
}

// do performs one JSON exchange and maps failures onto the error taxonomy.
func (c *Client) do(ctx context.Context, op, method, target string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("eden: %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Body: truncateBody(raw)}
	}
	return raw, nil
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}
