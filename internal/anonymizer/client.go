// Package anonymizer is the HTTP client for the face-processing engine.
// Media never travels over the wire: both sides mount the same volume, so
// requests carry filesystem paths and the engine reads and writes in place.
package anonymizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger

	healthPollEvery time.Duration
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 4 * time.Hour, // processing runs frame by frame over the whole video
		},
		logger:          logger.With().Str("component", "anonymizer").Logger(),
		healthPollEvery: 5 * time.Second,
	}
}

// Options tunes the engine's detection and matching; nil fields keep the
// engine defaults.
type Options struct {
	Thresh                *float64 `json:"thresh,omitempty"`
	ReidThreshold         *float64 `json:"reid_threshold,omitempty"`
	MaxFramesWithoutFaces *int     `json:"max_frames_without_faces,omitempty"`
	Debugging             *bool    `json:"debugging,omitempty"`
	KeepAudio             *bool    `json:"keep_audio,omitempty"`
}

type ProcessRequest struct {
	JobID                 string   `json:"job_id"`
	VideoPath             string   `json:"video_path"`
	TargetPersonImagesDir string   `json:"target_person_images_dir"`
	OutputPath            string   `json:"output_path"`
	Options               *Options `json:"options,omitempty"`
}

type ProcessResult struct {
	Success    bool   `json:"success"`
	JobID      string `json:"job_id"`
	OutputPath string `json:"output_path"`
	Error      string `json:"error"`
}

type SharedFile struct {
	Path   string  `json:"path"`
	Size   int64   `json:"size"`
	SizeMB float64 `json:"size_mb"`
}

type SharedFiles struct {
	Files      []SharedFile `json:"files"`
	TotalFiles int          `json:"total_files"`
}

// WaitHealthy polls /health until the engine reports healthy or maxWait
// elapses. The engine loads its models lazily and can take a while to come
// up after a restart.
func (c *Client) WaitHealthy(ctx context.Context, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)

	for {
		err := c.health(ctx)
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("engine not healthy after %s: %w", maxWait, err)
		}
		c.logger.Debug().Err(err).Msg("engine not ready, retrying")

		t := time.NewTimer(c.healthPollEvery)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: status %d", resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}
	if out.Status != "healthy" {
		return fmt.Errorf("health check: status %q", out.Status)
	}
	return nil
}

// ProcessVideo submits one video for blurring and blocks until the engine
// finishes. The result's OutputPath may differ from the requested one: the
// engine sanitizes file names it cannot feed to ffmpeg.
func (c *Client) ProcessVideo(ctx context.Context, pr ProcessRequest) (*ProcessResult, error) {
	body, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("marshal process request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process-video", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build process request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info().Str("job_id", pr.JobID).Str("video_path", pr.VideoPath).Msg("submitting video for processing")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("process video: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read process response: %w", err)
	}

	var result ProcessResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode process response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || !result.Success {
		reason := result.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &result, fmt.Errorf("processing failed: %s", reason)
	}

	return &result, nil
}

// ListSharedFiles enumerates the shared volume as the engine sees it.
// Purely an operational aid for debugging path mismatches.
func (c *Client) ListSharedFiles(ctx context.Context) (*SharedFiles, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list-shared-files", nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list shared files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list shared files: status %d", resp.StatusCode)
	}

	var out SharedFiles
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return &out, nil
}
