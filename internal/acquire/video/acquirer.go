// Package video downloads a job's source video into its working directory.
// Direct HTTP URLs are fetched as-is. URLs on a known streaming platform
// first go through the scraper service, which navigates the player page and
// hands back a direct media URL plus the session cookies needed to fetch it.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Download struct {
	LocalPath string
	Size      int64
}

type Acquirer struct {
	resolverURL    string
	streamingHosts []string
	resolver       *http.Client
	downloader     *http.Client
	logger         zerolog.Logger
}

func NewAcquirer(resolverURL string, streamingHosts []string, logger zerolog.Logger) *Acquirer {
	return &Acquirer{
		resolverURL:    resolverURL,
		streamingHosts: streamingHosts,
		resolver: &http.Client{
			Timeout: 5 * time.Minute, // page navigation
		},
		downloader: &http.Client{
			Timeout: 30 * time.Minute, // videos can be large
		},
		logger: logger.With().Str("component", "video_acquirer").Logger(),
	}
}

type resolveRequest struct {
	PageURL string `json:"page_url"`
}

type resolveResponse struct {
	MediaURL string `json:"media_url"`
	Cookies  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"cookies"`
}

// AcquireVideo downloads sourceURL into outputDir under fileName and
// returns the local path and size. An empty download is an error.
func (a *Acquirer) AcquireVideo(ctx context.Context, sourceURL, fileName, outputDir string) (*Download, error) {
	mediaURL := sourceURL
	var cookies []*http.Cookie

	if a.needsResolve(sourceURL) {
		resolved, err := a.resolve(ctx, sourceURL)
		if err != nil {
			return nil, fmt.Errorf("resolve streaming url: %w", err)
		}
		mediaURL = resolved.MediaURL
		for _, c := range resolved.Cookies {
			cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
		}
		a.logger.Debug().Str("page_url", sourceURL).Int("cookies", len(cookies)).Msg("resolved streaming source")
	}

	path := filepath.Join(outputDir, fileName)
	size, err := a.download(ctx, mediaURL, cookies, path)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		os.Remove(path)
		return nil, fmt.Errorf("downloaded video is empty: %s", mediaURL)
	}

	a.logger.Info().Str("path", path).Int64("bytes", size).Msg("video acquired")
	return &Download{LocalPath: path, Size: size}, nil
}

func (a *Acquirer) needsResolve(sourceURL string) bool {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range a.streamingHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

func (a *Acquirer) resolve(ctx context.Context, pageURL string) (*resolveResponse, error) {
	body, err := json.Marshal(resolveRequest{PageURL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("marshal resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.resolverURL+"/resolve-video", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.resolver.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	var out resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode resolve response: %w", err)
	}
	if out.MediaURL == "" {
		return nil, fmt.Errorf("resolver returned no media url")
	}
	return &out, nil
}

func (a *Acquirer) download(ctx context.Context, mediaURL string, cookies []*http.Cookie, path string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build download request: %w", err)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := a.downloader.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download video: unexpected status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create video file: %w", err)
	}
	defer f.Close()

	// Stream straight to disk; the file never sits in memory.
	size, err := io.Copy(f, resp.Body)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("write video file: %w", err)
	}
	return size, nil
}
