// Package text normalises user play queries and extracts links from them.
package text

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	urlRegex        = regexp.MustCompile(`https?://\S+`)
	spotifyURIRegex = regexp.MustCompile(`spotify:track:[a-zA-Z0-9]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)

	trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "si", "feature"}
)

// Query is a parsed play request.
type Query struct {
	Text string // Normalised query text.
	URL  string // First link in the query, cleaned of tracking parameters; empty for free text.
}

// IsURL reports whether the query carries a link.
func (q Query) IsURL() bool { return q.URL != "" }

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse normalises raw user input and extracts the first link or Spotify URI.
func (p *Parser) Parse(raw string) Query {
	text := p.normalizeText(raw)

	if uri := spotifyURIRegex.FindString(text); uri != "" {
		return Query{Text: text, URL: uri}
	}

	for _, match := range urlRegex.FindAllString(text, -1) {
		if clean := p.cleanURL(match); clean != "" {
			return Query{Text: text, URL: clean}
		}
	}

	return Query{Text: text}
}

func (p *Parser) normalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func (p *Parser) cleanURL(rawURL string) string {
	rawURL = strings.TrimRight(rawURL, ".,!?;)")

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}

	q := u.Query()
	for _, param := range trackingParams {
		q.Del(param)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
