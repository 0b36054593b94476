package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jsaddiction/metarr/internal/errs"
	"github.com/rs/zerolog/log"
)

const (
	defaultTVDBBaseURL = "https://api4.thetvdb.com/v4"
	defaultTVDBTimeout = 20 * time.Second
)

// TVDBClient fetches series metadata from TheTVDB v4 API. TVDB uses a
// short-lived bearer token obtained via a login call, unlike TMDB/Fanart's
// static API keys, so this client caches and refreshes that token.
type TVDBClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rateLimiter

	mu        sync.Mutex
	token     string
	tokenExp  time.Time
}

type TVDBOption func(*TVDBClient)

func WithTVDBBaseURL(u string) TVDBOption        { return func(c *TVDBClient) { c.baseURL = u } }
func WithTVDBHTTPClient(h *http.Client) TVDBOption { return func(c *TVDBClient) { c.httpClient = h } }

func NewTVDBClient(apiKey string, opts ...TVDBOption) *TVDBClient {
	c := &TVDBClient{
		baseURL:    defaultTVDBBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTVDBTimeout},
		limiter:    newRateLimiter(4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *TVDBClient) Name() Name { return NameTVDB }

type tvdbLoginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

func (c *TVDBClient) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{"apikey": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tvdb: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errs.New(errs.KindTransientNetwork, fmt.Errorf("tvdb: login: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errs.New(errs.KindTransientNetwork, fmt.Errorf("tvdb: login status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tvdb: read login body: %w", err)
	}
	var login tvdbLoginResponse
	if err := json.Unmarshal(raw, &login); err != nil {
		return "", errs.New(errs.KindFatal, fmt.Errorf("tvdb: decode login response: %w", err))
	}

	c.token = login.Data.Token
	c.tokenExp = time.Now().Add(28 * 24 * time.Hour) // TVDB tokens are valid ~1 month
	return c.token, nil
}

type tvdbSeriesResponse struct {
	Data struct {
		Name     string `json:"name"`
		Overview string `json:"overview"`
		Year     string `json:"year"`
		Genres   []struct{ Name string `json:"name"` } `json:"genres"`
		Artworks []struct {
			Type   int    `json:"type"`
			Image  string `json:"image"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
			Score  float64 `json:"score"`
			Language string `json:"language"`
		} `json:"artworks"`
	} `json:"data"`
}

// tvdbArtworkType maps TVDB's numeric artwork type codes to the engine's
// internal asset type vocabulary.
func tvdbArtworkType(code int) (string, bool) {
	switch code {
	case 2:
		return "poster", true
	case 3:
		return "backdrop", true
	case 5:
		return "banner", true
	case 23:
		return "logo", true
	default:
		return "", false
	}
}

func (c *TVDBClient) Fetch(ctx context.Context, ids ExternalIDs, kind EntityKind, opts FetchOptions) (*Record, error) {
	if c.apiKey == "" {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("tvdb: api key not configured"))
	}
	if kind != KindSeries {
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	}
	if ids.TVDBID == 0 {
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/series/%d/extended?meta=translations", c.baseURL, ids.TVDBID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tvdb: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("tvdb: request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.New(errs.KindNotFound, errs.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.New(errs.KindRateLimit, errs.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("tvdb: server error %d", resp.StatusCode))
	default:
		return nil, errs.New(errs.KindFatal, fmt.Errorf("tvdb: unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindTransientNetwork, fmt.Errorf("tvdb: read body: %w", err))
	}

	var raw tvdbSeriesResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.New(errs.KindFatal, fmt.Errorf("tvdb: decode response: %w", err))
	}

	rec := &Record{
		Title:        raw.Data.Name,
		Plot:         raw.Data.Overview,
		FieldOrigin:  map[string]Name{},
	}
	for _, g := range raw.Data.Genres {
		rec.Genres = append(rec.Genres, g.Name)
	}

	if opts.IncludeImages {
		for _, art := range raw.Data.Artworks {
			assetType, ok := tvdbArtworkType(art.Type)
			if !ok {
				continue
			}
			rec.Images = append(rec.Images, Image{
				Type:        assetType,
				URL:         art.Image,
				Width:       art.Width,
				Height:      art.Height,
				VoteAverage: art.Score,
				Language:    art.Language,
				IsHD:        art.Width >= 1920,
				Provider:    NameTVDB,
			})
		}
	}

	log.Debug().Int64("tvdbId", ids.TVDBID).Msg("tvdb fetch complete")
	return rec, nil
}
