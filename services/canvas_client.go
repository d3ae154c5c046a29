package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	iso8601Format          = "2006-01-02T15:04:05Z"
	canvasDefaultPageSize  = 50
	canvasDefaultAttempts  = 3
	canvasDefaultRetryWait = 2 * time.Second
)

// MaxAttemptsError indicates a page request kept failing until the bounded
// attempt count ran out.
type MaxAttemptsError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("canvas request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *MaxAttemptsError) Unwrap() error { return e.Err }

// CanvasClient fetches graded submissions from the Canvas API.
type CanvasClient struct {
	baseURL     string
	token       string
	client      *http.Client
	pageSize    int
	maxAttempts int
	retryWait   time.Duration
}

// NewCanvasClient constructs a CanvasClient. A nil http.Client gets a
// 30-second timeout default.
func NewCanvasClient(baseURL, token string, client *http.Client) *CanvasClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CanvasClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		client:      client,
		pageSize:    canvasDefaultPageSize,
		maxAttempts: canvasDefaultAttempts,
		retryWait:   canvasDefaultRetryWait,
	}
}

// NewCanvasClientFromEnv constructs a CanvasClient from CANVAS_API_URL and
// CANVAS_API_TOKEN.
func NewCanvasClientFromEnv(client *http.Client) *CanvasClient {
	return NewCanvasClient(os.Getenv("CANVAS_API_URL"), os.Getenv("CANVAS_API_TOKEN"), client)
}

// SetPageSize overrides the per_page value; production code keeps the default.
func (c *CanvasClient) SetPageSize(size int) {
	if size > 0 {
		c.pageSize = size
	}
}

// SetRetryWait overrides the pause between request attempts.
func (c *CanvasClient) SetRetryWait(wait time.Duration) {
	c.retryWait = wait
}

// FetchSubmissions pages through the graded submissions for the assignment,
// following the Link header until no next page remains. When a page fails
// after bounded retries, whatever was gathered so far is returned; partial
// results are not an error.
func (c *CanvasClient) FetchSubmissions(ctx context.Context, courseID, assignmentID int, gradedSince time.Time) []json.RawMessage {
	pageURL := c.firstPageURL(courseID, assignmentID, gradedSince)

	var subDicts []json.RawMessage
	pageNum := 1
	for pageURL != "" {
		body, header, err := c.getWithRetries(ctx, pageURL)
		if err != nil {
			log.Printf("canvas fetch stopped at page %d; no more data will be collected: %v", pageNum, err)
			break
		}

		var page []json.RawMessage
		if err := json.Unmarshal(body, &page); err != nil {
			log.Printf("canvas page %d was not a JSON array; stopping: %v", pageNum, err)
			break
		}
		subDicts = append(subDicts, page...)

		pageURL = nextPageURL(header)
		pageNum++
	}

	log.Printf("Gathered %d submissions from Canvas", len(subDicts))
	return subDicts
}

func (c *CanvasClient) firstPageURL(courseID, assignmentID int, gradedSince time.Time) string {
	query := url.Values{}
	query.Add("student_ids[]", "all")
	query.Add("assignment_ids[]", strconv.Itoa(assignmentID))
	query.Add("include[]", "user")
	query.Set("per_page", strconv.Itoa(c.pageSize))
	query.Set("graded_since", gradedSince.UTC().Format(iso8601Format))

	return fmt.Sprintf("%s/courses/%d/students/submissions?%s", c.baseURL, courseID, query.Encode())
}

// getWithRetries requests reqURL up to maxAttempts times. A response only
// counts as usable when the status is 200 and the body is valid JSON.
func (c *CanvasClient) getWithRetries(ctx context.Context, reqURL string) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 && c.retryWait > 0 {
			select {
			case <-time.After(c.retryWait):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}

		body, header, err := c.getOnce(ctx, reqURL)
		if err == nil {
			return body, header, nil
		}
		lastErr = err
		log.Printf("canvas request attempt %d/%d failed: %v", attempt, c.maxAttempts, err)
	}
	return nil, nil, &MaxAttemptsError{URL: reqURL, Attempts: c.maxAttempts, Err: lastErr}
}

func (c *CanvasClient) getOnce(ctx context.Context, reqURL string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("canvas api error: status %d body %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if !json.Valid(body) {
		return nil, nil, fmt.Errorf("canvas response was not valid JSON")
	}
	return body, resp.Header, nil
}

// nextPageURL extracts the rel="next" target from an RFC 5988 Link header.
// An empty string means the last page was reached.
func nextPageURL(header http.Header) string {
	linkHeader := header.Get("Link")
	if linkHeader == "" {
		return ""
	}
	for _, link := range strings.Split(linkHeader, ",") {
		parts := strings.Split(strings.TrimSpace(link), ";")
		if len(parts) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(parts[0]), "<>")
		for _, param := range parts[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}
