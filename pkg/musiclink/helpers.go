package musiclink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// commonUserAgent is the user agent string used for all HTTP requests.
	commonUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	// commonAcceptHeader is the accept header used for HTML requests.
	commonAcceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	// expectedSplitParts is the expected number of parts when splitting title/artist strings.
	expectedSplitParts = 2
	// defaultHTTPTimeout is the default timeout for HTTP requests.
	defaultHTTPTimeout = 10 * time.Second
	// maxHTTPRedirects is the maximum number of HTTP redirects to follow.
	maxHTTPRedirects = 3
	// maxHTMLReadSize caps how much of a page is read when scraping titles.
	maxHTMLReadSize = 512 * 1024
	// DefaultRequestsPerSecond paces requests to a single platform.
	DefaultRequestsPerSecond = 5
	// defaultBurst is the burst size of platform limiters.
	defaultBurst = 2
)

var (
	// ErrTooManyRedirects is returned when too many redirects are encountered.
	ErrTooManyRedirects = errors.New("too many redirects")

	titleTagRegex = regexp.MustCompile(`<title>([^<]+)</title>`)
)

// newHTTPClient creates a new HTTP client with standard settings and redirect validation.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultHTTPTimeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

// newLimiter returns the per-platform request pacer.
func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(DefaultRequestsPerSecond), defaultBurst)
}

// statusError maps an upstream HTTP status to an error; 404 becomes ErrNotFound.
func statusError(service string, code int) error {
	if code == http.StatusNotFound {
		return fmt.Errorf("%s: %w", service, ErrNotFound)
	}
	return fmt.Errorf("%s returned status %d", service, code)
}

// fetchHTMLFromURL fetches HTML content from a URL with a size limit.
func fetchHTMLFromURL(ctx context.Context, client *http.Client, pageURL, serviceName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return "", err
	}

	req.Header.Set("User-Agent", commonUserAgent)
	req.Header.Set("Accept", commonAcceptHeader)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(serviceName, resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLReadSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	return string(bodyBytes), nil
}

// fetchJSON performs a GET request and decodes the JSON body into dest.
func fetchJSON(ctx context.Context, client *http.Client, reqURL, serviceName string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", commonUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return statusError(serviceName, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", serviceName, err)
	}
	return nil
}

// fetchOEmbedJSON fetches and decodes JSON from an oEmbed API endpoint.
func fetchOEmbedJSON(ctx context.Context, client *http.Client, oembedURL, targetURL string, dest any) error {
	reqURL := fmt.Sprintf("%s?url=%s&format=json", oembedURL, url.QueryEscape(targetURL))
	return fetchJSON(ctx, client, reqURL, "oEmbed API", dest)
}

// extractTitleAndArtistFromTitleTag extracts track info from an HTML <title> tag.
// This handles the common "Track Title <separator> Artist <suffix>" format.
func extractTitleAndArtistFromTitleTag(html, serviceSuffix, separator string) (title, artist string) {
	matches := titleTagRegex.FindStringSubmatch(html)
	if len(matches) < expectedSplitParts {
		return "", ""
	}

	titleText := matches[1]

	if serviceSuffix != "" {
		titleText = strings.TrimSuffix(titleText, serviceSuffix)
	}
	titleText = strings.TrimSpace(titleText)

	if separator != "" && strings.Contains(titleText, separator) {
		parts := strings.SplitN(titleText, separator, expectedSplitParts)
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}

	return titleText, ""
}

// hostIn reports whether rawURL parses and its lower-cased host is one of hosts.
func hostIn(rawURL string, hosts ...string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	hostname := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		if hostname == h {
			return true
		}
	}
	return false
}

// lastPathSegment returns the final non-empty path element of a URL.
func lastPathSegment(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	return parts[len(parts)-1]
}
