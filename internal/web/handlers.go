package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/justestif/spotify-listening-stats/internal/db"
	"github.com/justestif/spotify-listening-stats/internal/enrich"
	"github.com/justestif/spotify-listening-stats/internal/export"
	"github.com/justestif/spotify-listening-stats/internal/health"
	"github.com/justestif/spotify-listening-stats/internal/importer"
	"github.com/justestif/spotify-listening-stats/internal/stats"
	"github.com/justestif/spotify-listening-stats/internal/storage"
	"github.com/justestif/spotify-listening-stats/internal/sync"
	"github.com/justestif/spotify-listening-stats/internal/websocket"
	"github.com/justestif/spotify-listening-stats/internal/worker"
)

const (
	defaultLatestLimit = 50
	maxLatestLimit     = 100
	maxCaptureBytes    = 64 << 10
)

// StatsService computes listening statistics.
type StatsService interface {
	ParseWindow(rng, start, end string) (stats.Window, error)
	Stats(ctx context.Context, w stats.Window) (stats.AggregateResult, error)
	Overview(ctx context.Context, w stats.Window) (*stats.Overview, error)
	Monthly(ctx context.Context, months int) ([]stats.MonthBucket, error)
	Insights(ctx context.Context) ([]stats.Insight, error)
}

// SyncService records plays.
type SyncService interface {
	SyncRecent(ctx context.Context, source string, force bool) (*sync.SyncResult, error)
	Snapshot(ctx context.Context) (*db.Snapshot, error)
	Capture(ctx context.Context, cp sync.CapturedPlay) (*db.Play, error)
	CaptureLatest(ctx context.Context) (*db.Play, error)
	Ingest(ctx context.Context, plays []db.Play, source string) (*sync.IngestResult, error)
	RunCron(ctx context.Context) (*sync.SyncResult, error)
	Dedup(ctx context.Context) (int64, error)
}

// Enricher fills in artist and track metadata.
type Enricher interface {
	EnrichArtists(ctx context.Context) (*enrich.Result, error)
	EnrichPlays(ctx context.Context, limit int) (*enrich.PlayResult, error)
}

// HealthReporter reports on the scheduled sync.
type HealthReporter interface {
	Report(ctx context.Context) (*health.Report, error)
}

// PlayReader reads recent plays.
type PlayReader interface {
	Latest(ctx context.Context, userID string, limit int) ([]db.Play, error)
}

// JobRunner runs background jobs on demand.
type JobRunner interface {
	Jobs() []string
	IsRunning() bool
	RunOnce(ctx context.Context, name string) error
	Exclusive(ctx context.Context, name string, fn func(context.Context) error) error
}

// Pinger checks that the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the services behind the HTTP API. Enricher, Hub, Jobs
// and DB are optional.
type Dependencies struct {
	UserID         string
	Stats          StatsService
	Sync           SyncService
	Enricher       Enricher
	Health         HealthReporter
	Plays          PlayReader
	Archiver       storage.Archiver
	Hub            *websocket.Hub
	Jobs           JobRunner
	DB             Pinger
	CronSecret     string
	MaxImportBytes int64
	Logger         *slog.Logger
}

// Handlers contains HTTP handlers for the API.
type Handlers struct {
	userID         string
	stats          StatsService
	sync           SyncService
	enricher       Enricher
	health         HealthReporter
	plays          PlayReader
	archiver       storage.Archiver
	hub            *websocket.Hub
	jobs           JobRunner
	db             Pinger
	cronSecret     string
	maxImportBytes int64
	logger         *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Dependencies) *Handlers {
	h := &Handlers{
		userID:         d.UserID,
		stats:          d.Stats,
		sync:           d.Sync,
		enricher:       d.Enricher,
		health:         d.Health,
		plays:          d.Plays,
		archiver:       d.Archiver,
		hub:            d.Hub,
		jobs:           d.Jobs,
		db:             d.DB,
		cronSecret:     d.CronSecret,
		maxImportBytes: d.MaxImportBytes,
		logger:         d.Logger,
	}
	if h.archiver == nil {
		h.archiver = storage.NopArchiver{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.maxImportBytes <= 0 {
		h.maxImportBytes = 256 << 20
	}
	return h
}

// PlayResponse is a play as returned by the API.
type PlayResponse struct {
	TrackID       string    `json:"trackId"`
	TrackName     string    `json:"trackName"`
	ArtistName    string    `json:"artistName"`
	AlbumName     *string   `json:"albumName,omitempty"`
	AlbumImageURL *string   `json:"albumImageUrl,omitempty"`
	PlayedAt      time.Time `json:"playedAt"`
	MsPlayed      *int      `json:"msPlayed,omitempty"`
	DurationMs    *int      `json:"durationMs,omitempty"`
	Source        string    `json:"source"`
}

func toPlayResponse(p db.Play) PlayResponse {
	return PlayResponse{
		TrackID:       p.TrackID,
		TrackName:     p.TrackName,
		ArtistName:    p.ArtistName,
		AlbumName:     p.AlbumName,
		AlbumImageURL: p.AlbumImageURL,
		PlayedAt:      p.PlayedAt,
		MsPlayed:      p.MsPlayed,
		DurationMs:    p.DurationMs,
		Source:        p.Source,
	}
}

// ImportResponse summarises an uploaded streaming history.
type ImportResponse struct {
	Received     int      `json:"received"`
	Saved        int64    `json:"saved"`
	Malformed    int      `json:"malformed"`
	Skipped      int      `json:"skipped"`
	SkippedFiles []string `json:"skippedFiles,omitempty"`
	ArchivedAs   string   `json:"archivedAs,omitempty"`
}

// Health handles liveness checks (GET /health).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.writeError(w, r, fmt.Errorf("database unreachable: %w: %w", stats.ErrDataUnavailable, err))
			return
		}
	}
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WebSocket upgrades the connection for live notifications (GET /ws).
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeError(w, r, fmt.Errorf("live updates disabled: %w", db.ErrNotFound))
		return
	}
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// Stats returns ranked statistics for a window (GET /api/v1/stats).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.stats.Stats(r.Context(), win)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, res)
}

// ExportStats returns statistics as an XLSX workbook (GET /api/v1/stats/export).
func (h *Handlers) ExportStats(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.stats.Stats(r.Context(), win)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename(win.Key())))
	if err := export.WriteXLSX(w, res, win.Key()); err != nil {
		h.logger.Error("failed to write export", "window", win.Key(), "error", err)
	}
}

// Overview returns stats with monthly, insight and rhythm data (GET /api/v1/overview).
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	win, err := h.window(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ov, err := h.stats.Overview(r.Context(), win)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, ov)
}

// Monthly returns per-month play counts (GET /api/v1/monthly).
func (h *Handlers) Monthly(w http.ResponseWriter, r *http.Request) {
	months, err := intParam(r, "months", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	months = min(months, stats.MaxMonths)

	buckets, err := h.stats.Monthly(r.Context(), months)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, buckets)
}

// Insights returns derived listening insights (GET /api/v1/insights).
func (h *Handlers) Insights(w http.ResponseWriter, r *http.Request) {
	insights, err := h.stats.Insights(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, insights)
}

// LatestPlays returns the most recent plays (GET /api/v1/plays/latest).
func (h *Handlers) LatestPlays(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLatestLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit = min(max(limit, 1), maxLatestLimit)

	plays, err := h.plays.Latest(r.Context(), h.userID, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]PlayResponse, len(plays))
	for i, p := range plays {
		out[i] = toPlayResponse(p)
	}
	h.writeSuccess(w, http.StatusOK, out)
}

// Status returns the sync health report (GET /api/v1/status).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.health.Report(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, report)
}

// Sync pulls recently played tracks (POST /api/v1/sync).
func (h *Handlers) Sync(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	res, err := h.sync.SyncRecent(r.Context(), db.SourceSync, force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, res)
}

// Snapshot records top artists and tracks (POST /api/v1/snapshots).
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	var snap *db.Snapshot
	err := h.exclusive(r.Context(), worker.JobSnapshot, func(ctx context.Context) (err error) {
		snap, err = h.sync.Snapshot(ctx)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, map[string]any{
		"id":           snap.ID,
		"snapshotDate": snap.SnapshotDate.Format(time.DateOnly),
		"syncedAt":     snap.SyncedAt,
		"topArtists":   snap.TopArtists,
		"topTracks":    snap.TopTracks,
	})
}

// CapturePlay stores a single play (POST /api/v1/plays/capture). An empty
// body captures the most recently played track from Spotify.
func (h *Handlers) CapturePlay(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCaptureBytes))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("reading body: %w", errInvalidRequest))
		return
	}

	var play *db.Play
	if len(strings.TrimSpace(string(body))) == 0 {
		play, err = h.sync.CaptureLatest(r.Context())
	} else {
		var cp sync.CapturedPlay
		if err := json.Unmarshal(body, &cp); err != nil {
			h.writeError(w, r, fmt.Errorf("decoding play: %w", errInvalidRequest))
			return
		}
		play, err = h.sync.Capture(r.Context(), cp)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusCreated, toPlayResponse(*play))
}

// Import ingests an uploaded streaming history, either a JSON array or a
// ZIP of JSON files (POST /api/v1/import).
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxImportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, fmt.Errorf("import exceeds %d bytes: %w", tooLarge.Limit, errPayloadTooLarge))
			return
		}
		h.writeError(w, r, fmt.Errorf("reading upload: %w", errInvalidRequest))
		return
	}
	if len(data) == 0 {
		h.writeError(w, r, fmt.Errorf("empty upload: %w", errInvalidRequest))
		return
	}

	parsed, err := importer.ParseBytes(data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := ImportResponse{
		Malformed:    parsed.Malformed,
		Skipped:      parsed.Skipped,
		SkippedFiles: parsed.SkippedFiles,
	}

	name := r.URL.Query().Get("filename")
	if name == "" {
		name = "upload"
	}
	if path, err := h.archiver.Archive(r.Context(), name, data); err != nil {
		h.logger.Warn("failed to archive import", "name", name, "error", err)
	} else {
		resp.ArchivedAs = path
	}

	res, err := h.sync.Ingest(r.Context(), parsed.Plays, db.SourceImport)
	if res != nil {
		resp.Received = res.Received
		resp.Saved = res.Saved
		resp.Malformed += res.Malformed
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, resp)
}

// EnrichArtists refreshes artist metadata (POST /api/v1/enrich/artists).
func (h *Handlers) EnrichArtists(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		h.writeError(w, r, fmt.Errorf("enrichment disabled: %w", db.ErrNotFound))
		return
	}
	var res *enrich.Result
	err := h.exclusive(r.Context(), worker.JobEnrichArtists, func(ctx context.Context) (err error) {
		res, err = h.enricher.EnrichArtists(ctx)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, res)
}

// EnrichPlays fills in missing track metadata (POST /api/v1/enrich/plays).
func (h *Handlers) EnrichPlays(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		h.writeError(w, r, fmt.Errorf("enrichment disabled: %w", db.ErrNotFound))
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var res *enrich.PlayResult
	err = h.exclusive(r.Context(), worker.JobEnrichPlays, func(ctx context.Context) (err error) {
		res, err = h.enricher.EnrichPlays(ctx, limit)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, res)
}

// Dedup removes duplicate plays (POST /api/v1/maintenance/dedup).
func (h *Handlers) Dedup(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.Dedup(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Cron runs the scheduled sync for an external scheduler (GET /api/v1/cron).
// Requires "Authorization: Bearer <secret>".
func (h *Handlers) Cron(w http.ResponseWriter, r *http.Request) {
	if !h.authorizedCron(r) {
		h.writeError(w, r, errUnauthorized)
		return
	}
	var res *sync.SyncResult
	err := h.exclusive(r.Context(), worker.JobAutoSync, func(ctx context.Context) (err error) {
		res, err = h.sync.RunCron(ctx)
		return err
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, res)
}

// ListJobs lists the background jobs (GET /api/v1/jobs).
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeError(w, r, fmt.Errorf("jobs disabled: %w", db.ErrNotFound))
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"running": h.jobs.IsRunning(),
		"jobs":    h.jobs.Jobs(),
	})
}

// RunJob runs a background job now (POST /api/v1/jobs/{name}). It waits for
// an in-flight run of the same job to finish first.
func (h *Handlers) RunJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeError(w, r, fmt.Errorf("jobs disabled: %w", db.ErrNotFound))
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.jobs.RunOnce(r.Context(), name); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]string{"job": name, "status": "completed"})
}

// exclusive runs fn under the named job's lock when a scheduler is wired.
func (h *Handlers) exclusive(ctx context.Context, job string, fn func(context.Context) error) error {
	if h.jobs == nil {
		return fn(ctx)
	}
	return h.jobs.Exclusive(ctx, job, fn)
}

func (h *Handlers) authorizedCron(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

func (h *Handlers) window(r *http.Request) (stats.Window, error) {
	q := r.URL.Query()
	return h.stats.ParseWindow(q.Get("range"), q.Get("start"), q.Get("end"))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer: %w", name, errInvalidRequest)
	}
	return v, nil
}
