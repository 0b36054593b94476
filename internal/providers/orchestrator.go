package providers

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

const defaultProviderDeadline = 20 * time.Second
const defaultCacheTTL = 7 * 24 * time.Hour

// Orchestrator fans calls out to every configured provider client with a
// per-provider deadline, merges the results by provider priority, and
// caches the merge. This is a parallel fan-out-and-merge rather than a
// sequential first-success chain, since every provider's contribution
// matters, not just the first hit.
type Orchestrator struct {
	clients  []Client
	cache    CacheStore
	breakers map[Name]*gobreaker.CircuitBreaker
	deadline time.Duration
	cacheTTL time.Duration
}

// OrchestratorOption configures an Orchestrator at construction time.
type OrchestratorOption func(*Orchestrator)

func WithProviderDeadline(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.deadline = d }
}

func WithCacheTTL(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.cacheTTL = d }
}

// NewOrchestrator wires clients behind per-provider circuit breakers so a
// provider in an outage doesn't keep eating the full per-call deadline on
// every fetch.
func NewOrchestrator(cache CacheStore, clients []Client, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		clients:  clients,
		cache:    cache,
		breakers: make(map[Name]*gobreaker.CircuitBreaker),
		deadline: defaultProviderDeadline,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, c := range clients {
		name := c.Name()
		o.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(name),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return o
}

// providerKey is the provider-specific identifier CacheStore keys on.
func providerKey(name Name, ids ExternalIDs) string {
	switch name {
	case NameTMDB, NameFanartTV:
		return idStr(ids.TMDBID)
	case NameTVDB:
		return idStr(ids.TVDBID)
	default:
		return idStr(ids.TMDBID)
	}
}

func idStr(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// Fetch runs the parallel fetch-merge-cache orchestration.
func (o *Orchestrator) Fetch(ctx context.Context, kind EntityKind, ids ExternalIDs, opts FetchOptions) (*FetchResult, error) {
	if !opts.ForceRefresh {
		if cached, ok := o.firstFreshCache(kind, ids); ok {
			return &FetchResult{Record: cached.Record, Source: SourceCache, Age: time.Since(cached.FetchedAt)}, nil
		}
	}

	type outcome struct {
		name Name
		rec  *Record
		err  error
	}
	results := make(chan outcome, len(o.clients))

	for _, client := range o.clients {
		client := client
		go func() {
			callCtx, cancel := context.WithTimeout(ctx, o.deadline)
			defer cancel()

			breaker := o.breakers[client.Name()]
			raw, err := breaker.Execute(func() (interface{}, error) {
				return client.Fetch(callCtx, ids, kind, opts)
			})
			if err != nil {
				results <- outcome{name: client.Name(), err: err}
				return
			}
			results <- outcome{name: client.Name(), rec: raw.(*Record)}
		}()
	}

	var contributed, degraded []Name
	var records []*Record
	for range o.clients {
		out := <-results
		if out.err != nil {
			log.Debug().Str("provider", string(out.name)).Err(out.err).Msg("provider fetch degraded")
			degraded = append(degraded, out.name)
			continue
		}
		contributed = append(contributed, out.name)
		records = append(records, taggedRecord(out.name, out.rec))
	}

	if len(records) == 0 {
		// If all providers fail or time out, return a no-data result
		// rather than an error.
		return &FetchResult{Record: &Record{FieldOrigin: map[string]Name{}}, Source: SourceLive, Degraded: degraded}, nil
	}

	merged := Merge(records)

	if o.cache != nil {
		for _, name := range contributed {
			if err := o.cache.PutCached(kind, name, providerKey(name, ids), merged); err != nil {
				log.Warn().Err(err).Str("provider", string(name)).Msg("failed to persist provider cache")
			}
		}
	}

	source := SourceLive
	if len(degraded) > 0 {
		source = SourceMixed
	}

	return &FetchResult{Record: merged, Source: source, Providers: contributed, Degraded: degraded}, nil
}

func (o *Orchestrator) firstFreshCache(kind EntityKind, ids ExternalIDs) (*CachedRecord, bool) {
	if o.cache == nil {
		return nil, false
	}
	for _, c := range o.clients {
		cached, err := o.cache.GetCached(kind, c.Name(), providerKey(c.Name(), ids))
		if err != nil || cached == nil {
			continue
		}
		if time.Since(cached.FetchedAt) <= o.cacheTTL {
			return cached, true
		}
	}
	return nil, false
}

func taggedRecord(name Name, rec *Record) *Record {
	if rec.FieldOrigin == nil {
		rec.FieldOrigin = map[string]Name{}
	}
	if rec.Title != "" {
		rec.FieldOrigin["title"] = name
	}
	if rec.Plot != "" {
		rec.FieldOrigin["plot"] = name
	}
	return rec
}

// Merge combines per-provider records: scalar fields follow the
// highest-priority provider that set them non-empty; arrays are unioned
// with provider-tagged origin.
func Merge(records []*Record) *Record {
	sorted := make([]*Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return mergePriorityOf(sorted[i]) < mergePriorityOf(sorted[j])
	})

	merged := &Record{FieldOrigin: map[string]Name{}, RatingsBySrc: map[string]Rating{}}
	seenImage := make(map[string]bool)
	seenVideo := make(map[string]bool)
	seenCast := make(map[string]bool)
	seenGenre := make(map[string]bool)
	seenStudio := make(map[string]bool)
	seenCountry := make(map[string]bool)

	for _, rec := range sorted {
		if merged.Title == "" && rec.Title != "" {
			merged.Title = rec.Title
		}
		if merged.OriginalTitle == "" && rec.OriginalTitle != "" {
			merged.OriginalTitle = rec.OriginalTitle
		}
		if merged.Plot == "" && rec.Plot != "" {
			merged.Plot = rec.Plot
		}
		if merged.Tagline == "" && rec.Tagline != "" {
			merged.Tagline = rec.Tagline
		}
		if merged.Studio == "" && rec.Studio != "" {
			merged.Studio = rec.Studio
		}
		if merged.Year == 0 && rec.Year != 0 {
			merged.Year = rec.Year
		}

		for _, img := range rec.Images {
			key := img.Type + "|" + img.URL
			if seenImage[key] {
				continue
			}
			seenImage[key] = true
			merged.Images = append(merged.Images, img)
		}
		for _, v := range rec.Videos {
			key := v.Site + "|" + v.Key
			if seenVideo[key] {
				continue
			}
			seenVideo[key] = true
			merged.Videos = append(merged.Videos, v)
		}
		for _, cm := range rec.Cast {
			if seenCast[cm.ProviderPersonID] {
				continue
			}
			seenCast[cm.ProviderPersonID] = true
			merged.Cast = append(merged.Cast, cm)
		}
		for _, g := range rec.Genres {
			if seenGenre[g] {
				continue
			}
			seenGenre[g] = true
			merged.Genres = append(merged.Genres, g)
		}
		for _, s := range rec.Studios {
			if seenStudio[s] {
				continue
			}
			seenStudio[s] = true
			merged.Studios = append(merged.Studios, s)
		}
		for _, c := range rec.Countries {
			if seenCountry[c] {
				continue
			}
			seenCountry[c] = true
			merged.Countries = append(merged.Countries, c)
		}
		for src, rating := range rec.RatingsBySrc {
			if _, exists := merged.RatingsBySrc[src]; !exists {
				merged.RatingsBySrc[src] = rating
			}
		}
		for field, origin := range rec.FieldOrigin {
			if _, exists := merged.FieldOrigin[field]; !exists {
				merged.FieldOrigin[field] = origin
			}
		}
	}

	return merged
}

func mergePriorityOf(rec *Record) int {
	for _, origin := range rec.FieldOrigin {
		return mergePriority(origin)
	}
	if len(rec.Images) > 0 {
		return mergePriority(rec.Images[0].Provider)
	}
	return mergePriority("")
}
