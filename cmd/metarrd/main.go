// Package main is the entry point for the metarr metadata/asset curation
// engine: it wires the job store, worker pool, enrichment pipeline,
// verifier, scheduler and notifiers into one process and serves the
// webhook/health/Socket.IO HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jsaddiction/metarr/internal/config"
	"github.com/jsaddiction/metarr/internal/db"
	"github.com/jsaddiction/metarr/internal/enrichment"
	"github.com/jsaddiction/metarr/internal/events"
	"github.com/jsaddiction/metarr/internal/handlers"
	"github.com/jsaddiction/metarr/internal/jobs"
	"github.com/jsaddiction/metarr/internal/notify"
	"github.com/jsaddiction/metarr/internal/notify/discord"
	"github.com/jsaddiction/metarr/internal/notify/kodi"
	"github.com/jsaddiction/metarr/internal/providers"
	"github.com/jsaddiction/metarr/internal/scheduler"
	"github.com/jsaddiction/metarr/internal/cachefs"
	"github.com/jsaddiction/metarr/internal/verify"
	"github.com/jsaddiction/metarr/internal/version"
)

func main() {
	port := flag.String("port", "8080", "HTTP server port")
	dbPath := flag.String("db", db.DefaultPath, "path to the SQLite database file")
	cacheRoot := flag.String("cache-root", "cache", "root directory for the on-disk asset cache")
	trashRoot := flag.String("trash-root", "trash", "root directory the verifier recycles replaced files into")
	workers := flag.Int("workers", 4, "worker pool size")
	debug := flag.Bool("debug", false, "enable debug logging")

	tmdbAPIKey := flag.String("tmdb-api-key", os.Getenv("METARR_TMDB_API_KEY"), "TMDB API key")
	fanartAPIKey := flag.String("fanart-api-key", os.Getenv("METARR_FANART_API_KEY"), "Fanart.tv API key")
	tvdbAPIKey := flag.String("tvdb-api-key", os.Getenv("METARR_TVDB_API_KEY"), "TVDB API key")

	kodiHost := flag.String("kodi-host", "", "Kodi host (enables the notify-kodi collaborator when set)")
	kodiPort := flag.Int("kodi-port", 8080, "Kodi JSON-RPC port")
	kodiUser := flag.String("kodi-user", "", "Kodi JSON-RPC username")
	kodiPassword := flag.String("kodi-password", "", "Kodi JSON-RPC password")

	discordWebhookURL := flag.String("discord-webhook-url", os.Getenv("METARR_DISCORD_WEBHOOK_URL"), "Discord incoming webhook URL (enables notify-discord when set)")
	discordUsername := flag.String("discord-username", "metarr", "Discord webhook display name")

	ffprobeBin := flag.String("ffprobe", "ffprobe", "ffprobe binary path")

	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	versionInfo := version.GetInfo()
	log.Info().Str("version", versionInfo.String()).Msg("starting metarr")

	database := db.New(*dbPath)
	if err := database.Open(); err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	cfg := config.New(config.NewSQLStore(database.Conn()))
	repo := db.NewRepository(database)
	candidateStore := db.NewCandidateStore(database)
	cacheFileStore := db.NewCacheFileStore(database)
	providerCache := db.NewProviderCache(database)

	httpClient := &http.Client{Timeout: 30 * time.Second}

	var providerClients []providers.Client
	if *tmdbAPIKey != "" {
		providerClients = append(providerClients, providers.NewTMDBClient(*tmdbAPIKey, providers.WithTMDBHTTPClient(httpClient)))
	}
	if *fanartAPIKey != "" {
		providerClients = append(providerClients, providers.NewFanartClient(*fanartAPIKey, providers.WithFanartHTTPClient(httpClient)))
	}
	if *tvdbAPIKey != "" {
		providerClients = append(providerClients, providers.NewTVDBClient(*tvdbAPIKey, providers.WithTVDBHTTPClient(httpClient)))
	}
	if len(providerClients) == 0 {
		log.Warn().Msg("no provider API keys configured, enrichment will run with no metadata sources")
	}
	orchestrator := providers.NewOrchestrator(providerCache, providerClients)

	socketServer := events.NewSocketServer()
	broadcaster := events.NewSocketBroadcaster(socketServer)

	cache := cachefs.New(*cacheRoot)

	pipeline := enrichment.New(repo, orchestrator, candidateStore, cacheFileStore, cache, cfg, broadcaster, httpClient)

	probe := verify.NewFFProbe(*ffprobeBin)
	verifier := verify.New(repo, cacheFileStore, cache, probe, *trashRoot)

	jobStore := jobs.NewStore(database.Conn())
	if n, err := jobStore.RequeueStale(0); err != nil {
		log.Error().Err(err).Msg("startup: failed to requeue jobs abandoned by a prior process")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("startup: requeued jobs left claimed/processing by a prior process")
	}
	bulkRunStore := db.NewBulkRunStore(database)
	sched := scheduler.New(jobStore, repo, cfg, cache, cacheFileStore, bulkRunStore)

	notifiers := map[string]notify.Notifier{}
	if *kodiHost != "" {
		notifiers["kodi"] = kodi.NewClient(*kodiHost, *kodiPort, *kodiUser, *kodiPassword)
	}
	if *discordWebhookURL != "" {
		notifiers["discord"] = discord.NewClient(*discordWebhookURL, *discordUsername)
	}

	registry := jobs.NewRegistry()
	handlers.Register(registry, handlers.Deps{
		Repo:       repo,
		Jobs:       jobStore,
		Config:     cfg,
		Pipeline:   pipeline,
		Verifier:   verifier,
		Candidates: candidateStore,
		CacheFiles: cacheFileStore,
		CacheFS:    cache,
		BulkRuns:   bulkRunStore,
		Scheduler:  sched,
		Events:     broadcaster,
		Notifiers:  notifiers,
	})

	pool := jobs.NewPool(jobStore, registry, jobs.WithWorkerCount(*workers))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	defer sched.Stop()

	pool.Start(ctx)
	defer pool.Stop()

	mux := http.NewServeMux()

	mux.Handle("/socket.io/", socketServer)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(versionInfo)
	})

	mux.HandleFunc("/api/v1/webhook/radarr", webhookHandler(jobStore, pool, "radarr"))

	mux.HandleFunc("/api/v1/libraries/scan", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		libs, err := repo.ListLibraries()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		enqueued := 0
		for _, lib := range libs {
			if !lib.Enabled {
				continue
			}
			payload := jobs.LibraryScanPayload{
				Chain:     jobs.ChainContext{Source: "api", TraceID: uuid.New().String()},
				LibraryID: lib.ID,
			}
			if _, err := jobStore.Insert(jobs.Spec{Type: jobs.TypeLibraryScan, Priority: jobs.PriorityNormal, Payload: payload}); err != nil {
				log.Error().Err(err).Int64("libraryId", lib.ID).Msg("api: enqueue library-scan failed")
				continue
			}
			enqueued++
		}
		pool.NotifyInsert()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{"enqueued": enqueued})
	})

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("http server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server error")
	}

	log.Info().Msg("metarr stopped")
}

// radarrWebhook mirrors the subset of Radarr's "On Download" webhook body
// this engine acts on; unrecognized fields are ignored by json.Unmarshal
// rather than rejected, so a Radarr version with extra fields still decodes.
type radarrWebhook struct {
	EventType string `json:"eventType"`
	Movie     struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Year       int    `json:"year"`
		FolderPath string `json:"folderPath"`
		TMDBID     int64  `json:"tmdbId"`
		IMDBID     string `json:"imdbId"`
	} `json:"movie"`
}

// webhookHandler normalizes a Radarr/Sonarr/Lidarr-style webhook POST into
// a webhook-received job. source names which *arr application owns this
// route so the enqueued payload records provenance for the chain.
func webhookHandler(store *jobs.Store, pool *jobs.Pool, source string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var wh radarrWebhook
		if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
			http.Error(w, "invalid webhook body: "+err.Error(), http.StatusBadRequest)
			return
		}

		payload := jobs.WebhookReceivedPayload{
			Chain:     jobs.ChainContext{Source: "webhook", WebhookEvent: wh.EventType, TraceID: uuid.New().String()},
			Source:    source,
			EventType: wh.EventType,
		}
		if wh.Movie.FolderPath != "" || wh.Movie.ID != 0 {
			payload.Movie = &jobs.WebhookMovie{
				ID:         wh.Movie.ID,
				Title:      wh.Movie.Title,
				Year:       wh.Movie.Year,
				FolderPath: wh.Movie.FolderPath,
				TMDBID:     wh.Movie.TMDBID,
				IMDBID:     wh.Movie.IMDBID,
			}
		}

		if _, err := store.Insert(jobs.Spec{Type: jobs.TypeWebhookReceived, Priority: jobs.PriorityHigh, Payload: payload}); err != nil {
			log.Error().Err(err).Msg("webhook: enqueue failed")
			http.Error(w, "failed to enqueue webhook job", http.StatusInternalServerError)
			return
		}
		pool.NotifyInsert()

		w.WriteHeader(http.StatusAccepted)
	}
}
