// Package resolver turns user queries into track descriptors using the musiclink providers.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"groovecast/internal/core"
	"groovecast/pkg/fuzzy"
	"groovecast/pkg/musiclink"
	"groovecast/pkg/text"
)

// Resolver dispatches URLs to the platform that owns them and fans free-text
// queries out to every searchable platform.
type Resolver struct {
	manager    *musiclink.Manager
	parser     *text.Parser
	normalizer *fuzzy.Normalizer
	config     core.ResolverConfig
	logger     *zap.Logger
}

func New(manager *musiclink.Manager, config core.ResolverConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		manager:    manager,
		parser:     text.NewParser(),
		normalizer: fuzzy.NewNormalizer(),
		config:     config,
		logger:     logger,
	}
}

// scored is a search candidate with its ranking inputs.
type scored struct {
	track    core.TrackDescriptor
	score    float64
	priority int
	rank     int
}

// platformResult is what one platform contributed to a search.
type platformResult struct {
	platform   string
	candidates []scored
	err        error
}

// Resolve returns the best match for a query followed by alternates.
func (r *Resolver) Resolve(ctx context.Context, query, requestedBy string) ([]core.TrackDescriptor, error) {
	q := r.parser.Parse(query)
	if q.Text == "" && !q.IsURL() {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidCommand)
	}

	var (
		tracks []core.TrackDescriptor
		err    error
	)
	if q.IsURL() {
		tracks, err = r.lookup(ctx, q.URL)
	} else {
		tracks, err = r.search(ctx, q.Text)
	}
	if err != nil {
		return nil, err
	}

	for i := range tracks {
		tracks[i] = tracks[i].RequestedByUser(requestedBy)
	}
	return tracks, nil
}

func (r *Resolver) lookup(ctx context.Context, url string) ([]core.TrackDescriptor, error) {
	provider := r.manager.Match(url)
	if provider == nil {
		return nil, fmt.Errorf("%w: no platform handles %s", core.ErrNotFound, url)
	}

	var info *musiclink.TrackInfo
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		info, err = provider.Lookup(ctx, url)
		return err
	})
	if err != nil {
		r.logger.Warn("URL lookup failed",
			zap.String("platform", provider.Platform()),
			zap.String("url", url),
			zap.Error(err))
		if errors.Is(err, musiclink.ErrNotFound) || errors.Is(err, musiclink.ErrUnsupportedURL) {
			return nil, fmt.Errorf("%w: %w", core.ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", core.ErrPlatformUnavailable, provider.Platform(), err)
	}

	return []core.TrackDescriptor{toDescriptor(info)}, nil
}

func (r *Resolver) search(ctx context.Context, query string) ([]core.TrackDescriptor, error) {
	// Each goroutine owns one slot.
	results := make([]platformResult, len(r.config.Priority))

	g, gctx := errgroup.WithContext(ctx)
	for i, platform := range r.config.Priority {
		provider := r.manager.Provider(string(platform))
		if provider == nil {
			results[i] = platformResult{platform: string(platform), err: musiclink.ErrSearchUnsupported}
			continue
		}
		g.Go(func() error {
			results[i] = r.searchPlatform(gctx, provider, query, i)
			// A failed platform is skipped, never fatal for the group.
			return nil
		})
	}
	_ = g.Wait()

	var (
		candidates []scored
		attempted  int
		failed     []error
	)
	for _, res := range results {
		if errors.Is(res.err, musiclink.ErrSearchUnsupported) {
			continue
		}
		attempted++
		switch {
		case res.err == nil:
			candidates = append(candidates, res.candidates...)
		case errors.Is(res.err, musiclink.ErrNotFound):
		default:
			failed = append(failed, fmt.Errorf("%s: %w", res.platform, res.err))
		}
	}

	if attempted == 0 {
		return nil, fmt.Errorf("%w: no searchable platform is enabled", core.ErrPlatformUnavailable)
	}
	if len(failed) == attempted {
		return nil, fmt.Errorf("%w: %w", core.ErrPlatformUnavailable, errors.Join(failed...))
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %q", core.ErrNotFound, query)
	}

	return r.rank(query, dedupe(candidates))
}

func (r *Resolver) searchPlatform(ctx context.Context, provider musiclink.Provider, query string, priority int) platformResult {
	res := platformResult{platform: provider.Platform()}
	start := time.Now()

	var infos []musiclink.TrackInfo
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		infos, err = provider.Search(ctx, query, r.config.SearchLimit)
		return err
	})
	if err != nil {
		if !errors.Is(err, musiclink.ErrSearchUnsupported) {
			r.logger.Warn("Platform search failed",
				zap.String("platform", res.platform),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
		}
		res.err = err
		return res
	}

	for rank := range infos {
		info := &infos[rank]
		res.candidates = append(res.candidates, scored{
			track:    toDescriptor(info),
			score:    r.normalizer.MatchScore(query, info.Title, info.Artist),
			priority: priority,
			rank:     rank,
		})
	}
	r.logger.Debug("Platform search finished",
		zap.String("platform", res.platform),
		zap.Int("candidates", len(res.candidates)),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

// withRetry runs fn with the per-platform timeout on every attempt. Answers
// that retrying cannot change are not retried.
func (r *Resolver) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return core.Retry(ctx, r.config.Attempts, r.config.Backoff, func(ctx context.Context, _ int) error {
		callCtx, cancel := context.WithTimeout(ctx, r.config.PlatformTimeout)
		defer cancel()

		err := fn(callCtx)
		if errors.Is(err, musiclink.ErrNotFound) ||
			errors.Is(err, musiclink.ErrSearchUnsupported) ||
			errors.Is(err, musiclink.ErrUnsupportedURL) {
			return core.Permanent(err)
		}
		return err
	})
}

// rank orders confident candidates by platform priority, then provider rank.
// Without a confident candidate a single result is still returned, several are ambiguous.
func (r *Resolver) rank(query string, candidates []scored) ([]core.TrackDescriptor, error) {
	var confident []scored
	for _, c := range candidates {
		if c.score >= r.config.MinConfidence {
			confident = append(confident, c)
		}
	}

	if len(confident) == 0 {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
		if len(candidates) == 1 {
			return []core.TrackDescriptor{candidates[0].track}, nil
		}
		return nil, &core.AmbiguousQueryError{Query: query, Candidates: descriptors(candidates)}
	}

	sort.SliceStable(confident, func(i, j int) bool {
		if confident[i].priority != confident[j].priority {
			return confident[i].priority < confident[j].priority
		}
		return confident[i].rank < confident[j].rank
	})
	return descriptors(confident), nil
}

func dedupe(candidates []scored) []scored {
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if seen[c.track.Fingerprint] {
			continue
		}
		seen[c.track.Fingerprint] = true
		out = append(out, c)
	}
	return out
}

func descriptors(candidates []scored) []core.TrackDescriptor {
	out := make([]core.TrackDescriptor, len(candidates))
	for i := range candidates {
		out[i] = candidates[i].track
	}
	return out
}

func toDescriptor(info *musiclink.TrackInfo) core.TrackDescriptor {
	return core.NewTrackDescriptor(core.Platform(info.Platform), info.ID, info.Title, info.Artist, info.URL, info.Duration)
}
