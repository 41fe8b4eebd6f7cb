// Package youtube publishes processed videos to the hosting platform and
// searches existing uploads, so already-published work is never reprocessed.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultAPIBase    = "https://www.googleapis.com/youtube/v3"
	defaultUploadBase = "https://www.googleapis.com/upload/youtube/v3"
)

// FailureKind classifies upload failures for the orchestrator. Quota
// exhaustion is account-wide and demands pipeline backpressure; everything
// else fails only the current job.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureGeneric
	FailureQuota
)

type Video struct {
	ID          string
	Title       string
	Description string
	URL         string
}

type SearchResult struct {
	Exists  bool
	Matches []Video
}

// UploadResult is the structured outcome of UploadWithRetry. Expected
// failure modes come back as Kind + Err, not as a raised error, so the
// caller classifies with a branch instead of string matching.
type UploadResult struct {
	Success bool
	Kind    FailureKind
	Video   Video
	Err     string
}

type apiError struct {
	Status  int
	Reason  string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("youtube api: status %d, reason %q: %s", e.Status, e.Reason, e.Message)
}

// quotaReasons are the platform error reasons that mean the account-wide
// publish quota is exhausted.
var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"uploadLimitExceeded":   true,
	"rateLimitExceeded":     false, // per-request throttle, retryable
	"userRateLimitExceeded": false,
}

type Client struct {
	http       *http.Client
	apiBase    string
	uploadBase string
	logger     zerolog.Logger

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(logger zerolog.Logger) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Minute, // uploads are large
		},
		apiBase:    defaultAPIBase,
		uploadBase: defaultUploadBase,
		logger:     logger.With().Str("component", "youtube").Logger(),
		sleep:      sleepCtx,
	}
}

// NewClientWithEndpoints is used by tests to point at a local server.
func NewClientWithEndpoints(logger zerolog.Logger, apiBase, uploadBase string) *Client {
	c := NewClient(logger)
	c.apiBase = apiBase
	c.uploadBase = uploadBase
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SearchExisting looks up the caller's uploads whose title equals title
// exactly. The platform search is fuzzy, so results are filtered here.
func (c *Client) SearchExisting(ctx context.Context, accessToken, title string) (*SearchResult, error) {
	q := url.Values{
		"part":       {"snippet"},
		"forMine":    {"true"},
		"type":       {"video"},
		"maxResults": {"50"},
		"q":          {title},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var out struct {
		Items []struct {
			ID struct {
				VideoID string `json:"videoId"`
			} `json:"id"`
			Snippet struct {
				Title       string `json:"title"`
				Description string `json:"description"`
			} `json:"snippet"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	result := &SearchResult{}
	for _, item := range out.Items {
		if item.Snippet.Title != title {
			continue
		}
		result.Matches = append(result.Matches, Video{
			ID:          item.ID.VideoID,
			Title:       item.Snippet.Title,
			Description: item.Snippet.Description,
			URL:         watchURL(item.ID.VideoID),
		})
	}
	result.Exists = len(result.Matches) > 0
	return result, nil
}

// UploadWithRetry uploads localPath with a bounded number of attempts and a
// linear backoff (base × attempt) between them. Quota-classified failures
// stop retrying immediately: the quota will not recover within any backoff.
func (c *Client) UploadWithRetry(ctx context.Context, accessToken, localPath, title, description string, attempts int, base time.Duration) UploadResult {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		video, err := c.upload(ctx, accessToken, localPath, title, description)
		if err == nil {
			return UploadResult{Success: true, Kind: FailureNone, Video: video}
		}
		lastErr = err

		if isQuotaError(err) {
			c.logger.Warn().Err(err).Str("title", title).Msg("upload quota exhausted")
			return UploadResult{Kind: FailureQuota, Err: err.Error()}
		}

		c.logger.Warn().
			Err(err).
			Str("title", title).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Msg("upload failed")

		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, base*time.Duration(attempt)); err != nil {
			return UploadResult{Kind: FailureGeneric, Err: err.Error()}
		}
	}

	return UploadResult{Kind: FailureGeneric, Err: lastErr.Error()}
}

func (c *Client) upload(ctx context.Context, accessToken, localPath, title, description string) (Video, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Video{}, fmt.Errorf("open video file: %w", err)
	}
	defer f.Close()

	meta := map[string]any{
		"snippet": map[string]any{
			"title":       title,
			"description": description,
			"categoryId":  "27", // Education
		},
		"status": map[string]any{
			"privacyStatus": "unlisted",
		},
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Video{}, fmt.Errorf("marshal snippet: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		jsonHdr := textproto.MIMEHeader{}
		jsonHdr.Set("Content-Type", "application/json; charset=UTF-8")
		part, err := mw.CreatePart(jsonHdr)
		if err == nil {
			_, err = part.Write(metaJSON)
		}
		if err != nil {
			pw.CloseWithError(err)
			return
		}

		videoHdr := textproto.MIMEHeader{}
		videoHdr.Set("Content-Type", "video/*")
		part, err = mw.CreatePart(videoHdr)
		if err == nil {
			// Stream, do not buffer: video files run into the gigabytes.
			_, err = io.Copy(part, f)
		}
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	u := c.uploadBase + "/videos?" + url.Values{
		"uploadType": {"multipart"},
		"part":       {"snippet,status"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		return Video{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := c.http.Do(req)
	if err != nil {
		return Video{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Video{}, decodeAPIError(resp)
	}

	var out struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"snippet"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Video{}, fmt.Errorf("decode upload response: %w", err)
	}

	return Video{
		ID:          out.ID,
		Title:       out.Snippet.Title,
		Description: out.Snippet.Description,
		URL:         watchURL(out.ID),
	}, nil
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	apiErr := &apiError{Status: resp.StatusCode, Message: string(body)}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			apiErr.Message = parsed.Error.Message
		}
		if len(parsed.Error.Errors) > 0 {
			apiErr.Reason = parsed.Error.Errors[0].Reason
		}
	}
	return apiErr
}

func isQuotaError(err error) bool {
	var ae *apiError
	if !errors.As(err, &ae) {
		return false
	}
	return quotaReasons[ae.Reason]
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
