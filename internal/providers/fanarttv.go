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
	defaultFanartMovieBaseURL  = "https://webservice.fanart.tv/v3/movies"
	defaultFanartSeriesBaseURL = "https://webservice.fanart.tv/v3/tv"
	defaultFanartTimeout       = 30 * time.Second
	defaultFanartUserAgent     = "metarr (https://github.com/jsaddiction/metarr)"
)

// FanartClient fetches movie/series artwork from Fanart.tv: functional
// options for construction, a shared rate limiter, and status-code based
// error classification, over a movies/posters/backdrops/logos/banners
// asset taxonomy.
type FanartClient struct {
	movieBaseURL  string
	seriesBaseURL string
	apiKey        string
	userAgent     string
	httpClient    *http.Client
	limiter       *rateLimiter
}

type FanartOption func(*FanartClient)

func WithFanartAPIKey(key string) FanartOption   { return func(c *FanartClient) { c.apiKey = key } }
func WithFanartUserAgent(ua string) FanartOption { return func(c *FanartClient) { c.userAgent = ua } }
func WithFanartHTTPClient(h *http.Client) FanartOption { return func(c *FanartClient) { c.httpClient = h } }

// NewFanartClient builds a client rate-limited to 1 req/s, matching
// Fanart.tv's documented free-tier guideline.
func NewFanartClient(apiKey string, opts ...FanartOption) *FanartClient {
	c := &FanartClient{
		movieBaseURL:  defaultFanartMovieBaseURL,
		seriesBaseURL: defaultFanartSeriesBaseURL,
		apiKey:        apiKey,
		userAgent:     defaultFanartUserAgent,
		httpClient:    &http.Client{Timeout: defaultFanartTimeout},
		limiter:       newRateLimiter(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *FanartClient) Name() Name { return NameFanartTV }

// IsConfigured reports whether an API key is present, so a worker can
// skip this provider rather than fail against it.
func (c *FanartClient) IsConfigured() bool { return c.apiKey != "" }

type fanartMovieResponse struct {
	Name         string        `json:"name"`
	MovieBG      []fanartImage `json:"moviebackground"`
	MoviePoster  []fanartImage `json:"movieposter"`
	HDMovieLogo  []fanartImage `json:"hdmovielogo"`
	MovieBanner  []fanartImage `json:"moviebanner"`
}

type fanartSeriesResponse struct {
	Name         string        `json:"name"`
	ShowBG       []fanartImage `json:"showbackground"`
	TVPoster     []fanartImage `json:"tvposter"`
	HDTVLogo     []fanartImage `json:"hdtvlogo"`
	TVBanner     []fanartImage `json:"tvbanner"`
}

type fanartImage struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Likes string `json:"likes"`
	Lang  string `json:"lang"`
}

func (i fanartImage) likes() int {
	n, _ := strconv.Atoi(i.Likes)
	return n
}

// Fetch implements Client. Fanart.tv keys movies by TMDB id and series by
// TVDB id.
func (c *FanartClient) Fetch(ctx context.Context, ids ExternalIDs, kind EntityKind, opts FetchOptions) (*Record, error) {
	if !c.IsConfigured() {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("fanarttv: api key not configured"))
	}
	if !opts.IncludeImages {
		return &Record{FieldOrigin: map[string]Name{}}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var url string
	switch kind {
	case KindMovie:
		if ids.TMDBID == 0 {
			return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
		}
		url = fmt.Sprintf("%s/%d?api_key=%s", c.movieBaseURL, ids.TMDBID, c.apiKey)
	case KindSeries:
		if ids.TVDBID == 0 {
			return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
		}
		url = fmt.Sprintf("%s/%d?api_key=%s", c.seriesBaseURL, ids.TVDBID, c.apiKey)
	default:
		return nil, errs.New(errs.KindValidation, fmt.Errorf("fanarttv: unsupported entity kind %q", kind))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fanarttv: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("fanarttv: request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.KindRateLimit, errs.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("fanarttv: server error %d", resp.StatusCode))
	default:
		return nil, errs.New(errs.KindFatal, fmt.Errorf("fanarttv: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("fanarttv: read body: %w", err))
	}

	rec := &Record{FieldOrigin: map[string]Name{}}
	if kind == KindMovie {
		var raw fanartMovieResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, errs.New(errs.KindFatal, fmt.Errorf("fanarttv: decode response: %w", err))
		}
		rec.Images = append(rec.Images, fanartImagesOf("backdrop", raw.MovieBG)...)
		rec.Images = append(rec.Images, fanartImagesOf("poster", raw.MoviePoster)...)
		rec.Images = append(rec.Images, fanartImagesOf("logo", raw.HDMovieLogo)...)
		rec.Images = append(rec.Images, fanartImagesOf("banner", raw.MovieBanner)...)
	} else {
		var raw fanartSeriesResponse
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, errs.New(errs.KindFatal, fmt.Errorf("fanarttv: decode response: %w", err))
		}
		rec.Images = append(rec.Images, fanartImagesOf("backdrop", raw.ShowBG)...)
		rec.Images = append(rec.Images, fanartImagesOf("poster", raw.TVPoster)...)
		rec.Images = append(rec.Images, fanartImagesOf("logo", raw.HDTVLogo)...)
		rec.Images = append(rec.Images, fanartImagesOf("banner", raw.TVBanner)...)
	}

	if len(rec.Images) == 0 {
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	}

	log.Debug().Int("images", len(rec.Images)).Msg("fanarttv fetch complete")
	return rec, nil
}

func fanartImagesOf(assetType string, images []fanartImage) []Image {
	out := make([]Image, 0, len(images))
	for _, img := range images {
		out = append(out, Image{
			Type:        assetType,
			URL:         img.URL,
			VoteAverage: float64(img.likes()), // fanart.tv has no vote_average; likes stand in as community signal
			Language:    img.Lang,
			Provider:    NameFanartTV,
		})
	}
	return out
}

// DownloadImage fetches raw image bytes for a URL this client returned,
// with MIME sniffing and a size cap.
func (c *FanartClient) DownloadImage(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("fanarttv: build image request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", errs.New(errs.KindTransientNetwork, fmt.Errorf("fanarttv: download image: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errs.New(errs.KindTransientNetwork, fmt.Errorf("fanarttv: image status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize))
	if err != nil {
		return nil, "", fmt.Errorf("fanarttv: read image: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = detectMimeType(data)
	}
	return data, contentType, nil
}
