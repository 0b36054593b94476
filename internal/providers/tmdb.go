package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jsaddiction/metarr/internal/errs"
	"github.com/rs/zerolog/log"
)

const (
	defaultTMDBBaseURL = "https://api.themoviedb.org/3"
	defaultTMDBTimeout = 20 * time.Second
)

// TMDBClient fetches movie/series metadata from The Movie Database.
type TMDBClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rateLimiter
}

// TMDBOption configures a TMDBClient at construction time.
type TMDBOption func(*TMDBClient)

func WithTMDBBaseURL(u string) TMDBOption   { return func(c *TMDBClient) { c.baseURL = u } }
func WithTMDBHTTPClient(h *http.Client) TMDBOption { return func(c *TMDBClient) { c.httpClient = h } }

// NewTMDBClient builds a client with a conservative 4 req/s limiter — TMDB's
// documented soft limit.
func NewTMDBClient(apiKey string, opts ...TMDBOption) *TMDBClient {
	c := &TMDBClient{
		baseURL:    defaultTMDBBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTMDBTimeout},
		limiter:    newRateLimiter(4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TMDBClient) Name() Name { return NameTMDB }

type tmdbMovieResponse struct {
	Title            string  `json:"title"`
	OriginalTitle    string  `json:"original_title"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline"`
	ReleaseDate      string  `json:"release_date"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int     `json:"vote_count"`
	Genres           []struct{ Name string `json:"name"` } `json:"genres"`
	ProductionCompanies []struct{ Name string `json:"name"` } `json:"production_companies"`
	ProductionCountries []struct{ Iso string `json:"iso_3166_1"` } `json:"production_countries"`
	Credits *tmdbCredits `json:"credits"`
	Images  *tmdbImages  `json:"images"`
	Videos  *tmdbVideos  `json:"videos"`
}

type tmdbCredits struct {
	Cast []struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		Character    string `json:"character"`
		Order        int    `json:"order"`
		ProfilePath  string `json:"profile_path"`
	} `json:"cast"`
}

type tmdbImages struct {
	Posters   []tmdbImage `json:"posters"`
	Backdrops []tmdbImage `json:"backdrops"`
	Logos     []tmdbImage `json:"logos"`
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	Iso639      string  `json:"iso_639_1"`
}

type tmdbVideos struct {
	Results []struct {
		Key  string `json:"key"`
		Site string `json:"site"`
		Type string `json:"type"`
	} `json:"results"`
}

const tmdbImageBase = "https://image.tmdb.org/t/p/original"

// Fetch implements Client. For series, the path is "/tv/{id}"; both kinds
// request the credits,images,videos append-to-response in one call.
func (c *TMDBClient) Fetch(ctx context.Context, ids ExternalIDs, kind EntityKind, opts FetchOptions) (*Record, error) {
	if c.apiKey == "" {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("tmdb: api key not configured"))
	}
	if ids.TMDBID == 0 {
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resource := "movie"
	if kind == KindSeries {
		resource = "tv"
	}

	url := fmt.Sprintf("%s/%s/%d?api_key=%s&append_to_response=credits,images,videos&include_image_language=en,null",
		c.baseURL, resource, ids.TMDBID, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tmdb: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("tmdb: request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.KindRateLimit, errs.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("tmdb: server error %d", resp.StatusCode))
	default:
		return nil, errs.New(errs.KindFatal, fmt.Errorf("tmdb: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("tmdb: read body: %w", err))
	}

	var raw tmdbMovieResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(errs.KindFatal, fmt.Errorf("tmdb: decode response: %w", err))
	}

	year := 0
	if len(raw.ReleaseDate) >= 4 {
		if y, err := strconv.Atoi(raw.ReleaseDate[:4]); err == nil {
			year = y
		}
	}

	rec := &Record{
		Title:         raw.Title,
		OriginalTitle: raw.OriginalTitle,
		Plot:          raw.Overview,
		Tagline:       raw.Tagline,
		Year:          year,
		RatingsBySrc:  map[string]Rating{"tmdb": {Value: raw.VoteAverage, Votes: raw.VoteCount, Max: 10}},
		FieldOrigin:   map[string]Name{},
	}
	for _, g := range raw.Genres {
		rec.Genres = append(rec.Genres, g.Name)
	}
	for _, p := range raw.ProductionCompanies {
		rec.Studios = append(rec.Studios, p.Name)
	}
	if len(raw.ProductionCompanies) > 0 {
		rec.Studio = raw.ProductionCompanies[0].Name
	}
	for _, co := range raw.ProductionCountries {
		rec.Countries = append(rec.Countries, co.Iso)
	}

	if opts.IncludeCastCrew && raw.Credits != nil {
		for _, cast := range raw.Credits.Cast {
			profile := ""
			if cast.ProfilePath != "" {
				profile = tmdbImageBase + cast.ProfilePath
			}
			rec.Cast = append(rec.Cast, CastMember{
				ProviderPersonID: strconv.FormatInt(cast.ID, 10),
				Name:             cast.Name,
				Role:             cast.Character,
				Order:            cast.Order,
				ProfileImageURL:  profile,
				Provider:         NameTMDB,
			})
		}
	}

	if opts.IncludeImages && raw.Images != nil {
		rec.Images = append(rec.Images, tmdbImagesOf("poster", raw.Images.Posters)...)
		rec.Images = append(rec.Images, tmdbImagesOf("backdrop", raw.Images.Backdrops)...)
		rec.Images = append(rec.Images, tmdbImagesOf("logo", raw.Images.Logos)...)
	}

	if opts.IncludeVideos && raw.Videos != nil {
		for _, v := range raw.Videos.Results {
			rec.Videos = append(rec.Videos, Video{Key: v.Key, Site: v.Site, Type: v.Type, Provider: NameTMDB})
		}
	}

	log.Debug().Int64("tmdbId", ids.TMDBID).Str("resource", resource).Msg("tmdb fetch complete")
	return rec, nil
}

func tmdbImagesOf(assetType string, images []tmdbImage) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		out = append(out, Image{
			Type:        assetType,
			URL:         tmdbImageBase + img.FilePath,
			Width:       img.Width,
			Height:      img.Height,
			VoteAverage: img.VoteAverage,
			VoteCount:   img.VoteCount,
			Language:    img.Iso639,
			IsHD:        img.Width >= 1920,
			Provider:    NameTMDB,
		})
	}
	return out
}
