// Package images resolves an instructor name into reference images on disk.
// The actual web image search runs in a separate browser-automation scraper
// service; this client talks to its HTTP API and downloads what it found.
package images

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 5 * time.Minute, // browser automation is slow
		},
		logger: logger.With().Str("component", "image_acquirer").Logger(),
	}
}

// Result reports what was actually fetched. Zero images is a valid result;
// the caller decides whether that is fatal.
type Result struct {
	Count int
	Paths []string
	Errs  []string
}

type scrapeRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type scrapeResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
}

// AcquireReferenceImages searches for subjectName and saves up to maxCount
// images into outputDir. Individual download failures are collected, not
// fatal.
func (c *Client) AcquireReferenceImages(ctx context.Context, subjectName, outputDir string, maxCount int) (*Result, error) {
	body, err := json.Marshal(scrapeRequest{Query: subjectName, MaxResults: maxCount})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scrape-images", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape images: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("scrape images: status %d: %s", resp.StatusCode, string(respBody))
	}

	var scraped scrapeResponse
	if err := json.NewDecoder(resp.Body).Decode(&scraped); err != nil {
		return nil, fmt.Errorf("decode scrape response: %w", err)
	}

	result := &Result{}
	for i, img := range scraped.Images {
		if result.Count >= maxCount {
			break
		}

		path := filepath.Join(outputDir, fmt.Sprintf("reference_%02d.jpg", i+1))
		if err := c.download(ctx, img.URL, path); err != nil {
			c.logger.Warn().Err(err).Str("url", img.URL).Msg("reference image download failed")
			result.Errs = append(result.Errs, err.Error())
			continue
		}

		result.Paths = append(result.Paths, path)
		result.Count++
	}

	c.logger.Info().
		Str("subject", subjectName).
		Int("found", len(scraped.Images)).
		Int("saved", result.Count).
		Msg("reference images acquired")

	return result, nil
}

func (c *Client) download(ctx context.Context, imageURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return fmt.Errorf("write image file: %w", err)
	}
	return nil
}
