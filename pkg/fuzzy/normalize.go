// Package fuzzy normalises track metadata and scores how well a candidate matches a query.
package fuzzy

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"golang.org/x/text/unicode/norm"
)

const (
	// durationTolerance is the difference treated as an exact duration match.
	durationTolerance = 30 * time.Second
	// durationMaxDiff is the difference at which durations stop matching at all.
	durationMaxDiff = 2 * time.Minute
)

var (
	featBracketRegex = regexp.MustCompile(`(?i)\s*[\(\[]\s*(?:feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]`)
	featTrailRegex   = regexp.MustCompile(`(?i)\s+(?:feat\.?|ft\.?|featuring)\s+.*$`)
	versionRegex     = regexp.MustCompile(
		`(?i)\s*[\(\[][^\)\]]*(?:remix|remaster|remastered|deluxe|extended|radio edit|clean|explicit)[^\)\]]*[\)\]]`)
	dashVersionRegex = regexp.MustCompile(`(?i)\s+-\s+[^-]*(?:remix|remaster|remastered|radio edit|extended|version|edit)[^-]*$`)
	punctRegex       = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex  = regexp.MustCompile(`\s+`)
)

// Normalizer cleans up titles and artists before comparison.
type Normalizer struct {
	metric strutil.StringMetric
}

// NewNormalizer returns a normalizer comparing strings by Levenshtein similarity.
func NewNormalizer() *Normalizer {
	return &Normalizer{metric: metrics.NewLevenshtein()}
}

func (n *Normalizer) NormalizeArtist(artist string) string {
	artist = n.basicNormalize(artist)

	artist = strings.ReplaceAll(artist, " and ", " & ")
	artist = strings.ReplaceAll(artist, " vs ", " vs. ")
	artist = strings.ReplaceAll(artist, " feat ", " feat. ")
	artist = strings.ReplaceAll(artist, " ft ", " ft. ")

	return artist
}

// NormalizeTitle strips featuring credits and remix/version decorations.
func (n *Normalizer) NormalizeTitle(title string) string {
	title = featBracketRegex.ReplaceAllString(title, "")
	title = featTrailRegex.ReplaceAllString(title, "")
	title = versionRegex.ReplaceAllString(title, "")
	title = dashVersionRegex.ReplaceAllString(title, "")

	return n.basicNormalize(title)
}

func (n *Normalizer) basicNormalize(text string) string {
	text = norm.NFKD.String(text)

	var result strings.Builder
	for _, r := range text {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	text = result.String()

	text = punctRegex.ReplaceAllString(text, " ")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	return strings.TrimSpace(strings.ToLower(text))
}

// CalculateSimilarity returns a similarity in [0,1] between two normalised strings.
func (n *Normalizer) CalculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if s1 == "" || s2 == "" {
		return 0.0
	}
	return strutil.Similarity(s1, s2, n.metric)
}

// MatchScore scores a candidate track against a free-text query. Users type either
// the title alone or title and artist in any order, so the best of those readings wins.
func (n *Normalizer) MatchScore(query, title, artist string) float64 {
	q := n.basicNormalize(query)
	t := n.NormalizeTitle(title)
	a := n.NormalizeArtist(artist)

	score := n.CalculateSimilarity(q, t)
	if a == "" {
		return score
	}
	for _, combined := range []string{a + " " + t, t + " " + a} {
		if s := n.CalculateSimilarity(q, combined); s > score {
			score = s
		}
	}
	return score
}

// DurationTolerance returns 1 for durations within 30s of each other, falling
// linearly to 0 at two minutes apart.
func (n *Normalizer) DurationTolerance(d1, d2 time.Duration) float64 {
	diff := d1 - d2
	if diff < 0 {
		diff = -diff
	}

	if diff <= durationTolerance {
		return 1.0
	}
	if diff >= durationMaxDiff {
		return 0.0
	}
	return 1.0 - float64(diff-durationTolerance)/float64(durationMaxDiff-durationTolerance)
}
