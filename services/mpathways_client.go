package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"placement-exam-sync/models"
)

// MPathwaysClient sends placement scores to the M-Pathways student records API.
type MPathwaysClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewMPathwaysClient constructs an MPathwaysClient. A nil http.Client gets a
// 30-second timeout default.
func NewMPathwaysClient(baseURL, token string, client *http.Client) *MPathwaysClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &MPathwaysClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// NewMPathwaysClientFromEnv constructs an MPathwaysClient from
// MPATHWAYS_API_URL and MPATHWAYS_API_TOKEN.
func NewMPathwaysClientFromEnv(client *http.Client) *MPathwaysClient {
	return NewMPathwaysClient(os.Getenv("MPATHWAYS_API_URL"), os.Getenv("MPATHWAYS_API_TOKEN"), client)
}

type scorePayload struct {
	PutPlcExamScore struct {
		Student []models.StudentScore `json:"Student"`
	} `json:"putPlcExamScore"`
}

type scoreResponse struct {
	PutPlcExamScoreResponse struct {
		Body scoreResponseBody `json:"putPlcExamScoreResponse"`
	} `json:"putPlcExamScoreResponse"`
}

type scoreResponseBody struct {
	GoodCount int             `json:"GoodCount"`
	BadCount  int             `json:"BadCount"`
	Success   successEntries  `json:"Success"`
	Errors    json.RawMessage `json:"Errors"`
}

type successEntry struct {
	Uniqname string `json:"uniqname"`
}

// successEntries tolerates the API returning a single object when GoodCount
// is 1 and an array otherwise.
type successEntries []successEntry

func (e *successEntries) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == `""` {
		return nil
	}
	if trimmed[0] == '[' {
		var arr []successEntry
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return err
		}
		*e = arr
		return nil
	}
	var single successEntry
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return err
	}
	*e = []successEntry{single}
	return nil
}

// ScoreCallResult is the reconciled outcome of one putPlcExamScore call.
type ScoreCallResult struct {
	GoodCount        int
	BadCount         int
	SuccessUniqnames []string
	Errors           json.RawMessage
}

// Confirmed reports whether the API explicitly acknowledged the student.
func (r *ScoreCallResult) Confirmed(uniqname string) bool {
	for _, name := range r.SuccessUniqnames {
		if name == uniqname {
			return true
		}
	}
	return false
}

// PutScores sends one batch of student scores. Any non-200 status or
// undecodable body is a total call failure; the caller must not trust any
// entry without the explicit per-student confirmation in the result.
func (c *MPathwaysClient) PutScores(ctx context.Context, scores []models.StudentScore) (*ScoreCallResult, error) {
	var payload scorePayload
	payload.PutPlcExamScore.Student = scores

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/Scores", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("mpathways api error: status %d body %s", resp.StatusCode, string(respBody))
	}

	var decoded scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode mpathways response: %w", err)
	}

	results := decoded.PutPlcExamScoreResponse.Body
	if results.BadCount > 0 {
		log.Printf("mpathways reported %d record error(s): %s", results.BadCount, string(results.Errors))
	}

	callResult := &ScoreCallResult{
		GoodCount: results.GoodCount,
		BadCount:  results.BadCount,
		Errors:    results.Errors,
	}
	for _, entry := range results.Success {
		if entry.Uniqname != "" {
			callResult.SuccessUniqnames = append(callResult.SuccessUniqnames, entry.Uniqname)
		}
	}
	return callResult, nil
}
