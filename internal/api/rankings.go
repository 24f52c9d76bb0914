package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikitrust/internal/ranking"
)

const (
	defaultDomainLimit     = 50
	maxDomainLimit         = 1000
	defaultConnectionLimit = 100
	maxConnectionLimit     = 5000
	rankingTimeout         = 10 * time.Second
)

// ConnectionSource lists, per page, the news domains it cites.
type ConnectionSource interface {
	NewsDomainsByPage(ctx context.Context) (map[string][]string, error)
}

// RankingHandler exposes read-only ranking endpoints.
type RankingHandler struct {
	engine      *ranking.Engine
	connections ConnectionSource
	opts        ranking.ResidualOptions
	timeout     time.Duration
	logger      *zap.Logger
}

// NewRankingHandler wires the engine, connection source, and logger.
func NewRankingHandler(
	engine *ranking.Engine,
	connections ConnectionSource,
	opts ranking.ResidualOptions,
	logger *zap.Logger,
) *RankingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingHandler{
		engine:      engine,
		connections: connections,
		opts:        opts,
		timeout:     rankingTimeout,
		logger:      logger,
	}
}

// ListDomains handles GET /api/domains?news=&sort=&order=&limit=&offset=. It
// returns {"domains": [...], "total": n}; 400 for invalid parameters, 503 when
// the engine is missing, or 500 if the computation fails.
func (h *RankingHandler) ListDomains(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "ranking engine unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultDomainLimit, maxDomainLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	newsOnly, err := parseBool(q.Get("news"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid news flag")
		return
	}
	ascending := false
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		writeError(w, http.StatusBadRequest, "invalid order")
		return
	}

	ds, err := h.compute(r, newsOnly)
	if errors.Is(err, ranking.ErrInsufficientData) {
		writeJSON(w, http.StatusOK, map[string]any{"domains": []domainDTO{}, "total": 0})
		return
	}
	if err != nil {
		h.logger.Error("compute rankings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute rankings")
		return
	}
	if column := q.Get("sort"); column != "" {
		if !ds.HasColumn(column) {
			writeError(w, http.StatusBadRequest, "unknown sort column")
			return
		}
		ds = ranking.SortBy(ds, column, ascending)
	}

	rows := ds.Rows
	start := min(offset, len(rows))
	end := min(start+limit, len(rows))
	writeJSON(w, http.StatusOK, map[string]any{
		"domains": toDomainDTOs(ds.Columns, rows[start:end]),
		"total":   len(rows),
	})
}

// GetDomain handles GET /api/domains/{domain}. It returns {"domain": {...}} or
// 404 when the domain has no popularity data.
func (h *RankingHandler) GetDomain(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "ranking engine unavailable")
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "domain"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}
	ds, err := h.compute(r, false)
	if errors.Is(err, ranking.ErrInsufficientData) {
		writeError(w, http.StatusNotFound, "domain not found")
		return
	}
	if err != nil {
		h.logger.Error("compute rankings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute rankings")
		return
	}
	for _, row := range ds.Rows {
		if row.Domain == name {
			writeJSON(w, http.StatusOK, map[string]any{"domain": toDomainDTO(ds.Columns, row)})
			return
		}
	}
	writeError(w, http.StatusNotFound, "domain not found")
}

// ListConnections handles GET /api/connections?limit=&offset=, most frequent
// pairs first.
func (h *RankingHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	if h.connections == nil {
		writeError(w, http.StatusServiceUnavailable, "connection source unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultConnectionLimit, maxConnectionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pages, err := h.connections.NewsDomainsByPage(ctx)
	if err != nil {
		h.logger.Error("load connections failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load connections")
		return
	}
	conns := ranking.Connections(ranking.CoOccurrence(pages))
	start := min(offset, len(conns))
	end := min(start+limit, len(conns))
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns[start:end],
		"total":       len(conns),
	})
}

func (h *RankingHandler) compute(r *http.Request, newsOnly bool) (ranking.Dataset, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	return h.engine.Compute(ctx, ranking.Options{Residual: h.opts, NewsOnly: newsOnly})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseBool(raw string, def bool) (bool, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, err
	}
	return v, nil
}

type domainDTO struct {
	Domain   string              `json:"domain"`
	NewsSite bool                `json:"news_site"`
	Metrics  map[string]*float64 `json:"metrics"`
}

func toDomainDTOs(columns []string, rows []ranking.Row) []domainDTO {
	out := make([]domainDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainDTO(columns, row))
	}
	return out
}

// NaN has no JSON form, so missing values become null.
func toDomainDTO(columns []string, row ranking.Row) domainDTO {
	dto := domainDTO{
		Domain:   row.Domain,
		NewsSite: row.NewsSite,
		Metrics:  make(map[string]*float64, len(columns)),
	}
	for _, c := range columns {
		v := row.Value(c)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			dto.Metrics[c] = nil
			continue
		}
		dto.Metrics[c] = &v
	}
	return dto
}
