// Package submit sends compile requests to the typesetting service and
// interprets its responses into the compile failure taxonomy.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.home.luguber.info/inful/texbuild/internal/compile"
)

const maxResponseBytes = 2 * 1024 * 1024

// Endpoints holds the resolved service URLs.
type Endpoints struct {
	Preview string
	Full    string
	Quick   string
	Status  string // job id is appended as a path segment
}

// EndpointsFor joins the base URL with the given paths.
func EndpointsFor(baseURL, previewPath, fullPath, quickPath, statusPath string) (Endpoints, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return Endpoints{}, fmt.Errorf("parse base url: %w", err)
	}
	join := func(p string) string {
		u := *base
		u.Path = strings.TrimSuffix(u.Path, "/") + p
		return u.String()
	}
	return Endpoints{
		Preview: join(previewPath),
		Full:    join(fullPath),
		Quick:   join(quickPath),
		Status:  join(statusPath),
	}, nil
}

// NewHTTPClient creates an HTTP client for the typesetting service. The
// client carries no own timeout; each request is bounded by its context
// deadline so the per-mode ceilings stay with the caller.
func NewHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// Client implements compile.Submitter against the HTTP contract of the
// typesetting service.
type Client struct {
	httpClient *http.Client
	endpoints  Endpoints
}

// NewClient creates a submitter. httpClient may be nil for defaults.
func NewClient(endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Client{httpClient: httpClient, endpoints: endpoints}
}

type previewBody struct {
	Content     string `json:"content"`
	Timeout     int    `json:"timeout"`
	ColorMode   string `json:"color_mode"`
	SectionName string `json:"section_name"`
}

type fullBody struct {
	DocType string `json:"doc_type"`
	Timeout int    `json:"timeout"`
}

type quickBody struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

// compileResponse is the shared response shape of all compile endpoints.
type compileResponse struct {
	Success   bool   `json:"success"`
	OutputPDF string `json:"output_pdf"`
	PDFPath   string `json:"pdf_path"`
	JobID     string `json:"job_id"`
	Error     string `json:"error"`
	Log       string `json:"log"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	PDFURL   string `json:"pdf_url"`
	Error    string `json:"error"`
}

// SubmitPreview issues a synchronous preview compile.
func (c *Client) SubmitPreview(ctx context.Context, req compile.PreviewRequest) (*compile.SubmitResult, error) {
	body := previewBody{
		Content:     req.Content,
		Timeout:     int(req.Timeout / time.Second),
		ColorMode:   req.ColorMode,
		SectionName: req.SectionName,
	}
	return c.submit(ctx, c.endpoints.Preview, body)
}

// SubmitFull issues a synchronous full-document compile.
func (c *Client) SubmitFull(ctx context.Context, req compile.FullRequest) (*compile.SubmitResult, error) {
	body := fullBody{
		DocType: req.DocType,
		Timeout: int(req.Timeout / time.Second),
	}
	return c.submit(ctx, c.endpoints.Full, body)
}

// SubmitQuick issues an asynchronous compile; the result carries a job id.
func (c *Client) SubmitQuick(ctx context.Context, req compile.QuickRequest) (*compile.SubmitResult, error) {
	body := quickBody{Content: req.Content, Title: req.Title}
	return c.submit(ctx, c.endpoints.Quick, body)
}

// JobStatus fetches the status of an async job by id.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*compile.StatusResult, error) {
	statusURL := c.endpoints.Status + "/" + url.PathEscape(jobID)
	data, err := c.doJSON(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, err
	}

	var sr statusResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, &compile.Error{Kind: compile.FailureTransport, Message: fmt.Sprintf("malformed status response: %v", err)}
	}
	return &compile.StatusResult{
		Status:   parseJobStatus(sr.Status),
		Progress: sr.Progress,
		PDFURL:   sr.PDFURL,
		Error:    sr.Error,
	}, nil
}

// submit posts a compile body and interprets the shared response shape.
func (c *Client) submit(ctx context.Context, endpoint string, body any) (*compile.SubmitResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	data, err := c.doJSON(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var cr compileResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, &compile.Error{Kind: compile.FailureTransport, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if !cr.Success {
		return nil, &compile.Error{Kind: compile.FailureService, Message: serviceFailureMessage(cr)}
	}

	if cr.JobID != "" {
		return &compile.SubmitResult{JobID: cr.JobID}, nil
	}
	artifact := cr.OutputPDF
	if artifact == "" {
		artifact = cr.PDFPath
	}
	return &compile.SubmitResult{ArtifactURL: artifact}, nil
}

// doJSON performs one request and classifies transport-level failures.
// Context expiry is the client-enforced hard ceiling: it aborts the pending
// request and surfaces the fixed "request aborted" message.
func (c *Client) doJSON(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	var reqBody io.Reader = http.NoBody
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &compile.Error{Kind: compile.FailureTimeout, Message: "request aborted"}
		}
		return nil, &compile.Error{Kind: compile.FailureTransport, Message: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &compile.Error{Kind: compile.FailureTransport, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &compile.Error{Kind: compile.FailureTimeout, Message: "request aborted"}
		}
		return nil, &compile.Error{Kind: compile.FailureTransport, Message: fmt.Sprintf("read response: %v", err)}
	}
	if len(data) > maxResponseBytes {
		return nil, &compile.Error{Kind: compile.FailureTransport, Message: "response too large"}
	}
	return data, nil
}

// serviceFailureMessage prefers the service error text, then the raw log
// dump, then a generic fallback.
func serviceFailureMessage(cr compileResponse) string {
	if cr.Error != "" {
		return cr.Error
	}
	if cr.Log != "" {
		return cr.Log
	}
	return "compilation failed"
}

func parseJobStatus(raw string) compile.JobStatus {
	switch raw {
	case "pending":
		return compile.JobPending
	case "running":
		return compile.JobRunning
	case "completed":
		return compile.JobCompleted
	case "failed":
		return compile.JobFailed
	default:
		// Unknown statuses keep the poll loop alive rather than failing it.
		return compile.JobRunning
	}
}
