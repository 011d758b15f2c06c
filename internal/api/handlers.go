package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/getools/gesniper/internal/domain"
	"github.com/getools/gesniper/internal/persistence"
	"github.com/getools/gesniper/internal/tenant"
)

// dumpHistoryWindow bounds the recent_history series on the dump detail view.
const dumpHistoryWindow = 24 * time.Hour

// maxBackfillHours caps the admin backfill request.
const maxBackfillHours = 24

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 10, len(s.views.Current().TopFlips))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gen := s.views.Current()
	flips := gen.TopFlips
	if len(flips) > limit {
		flips = flips[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": gen.Generation,
		"built_at":   gen.BuiltAt,
		"flips":      flips,
	})
}

func (s *Server) handleDumps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	tier := q.Get("tier")
	if tier != "" && !domain.KnownTier(tier) {
		writeError(w, http.StatusBadRequest, "unknown tier: "+tier)
		return
	}
	group := q.Get("group")
	if group != "" && group != domain.GroupMetals && group != domain.GroupGems {
		writeError(w, http.StatusBadRequest, "unknown group: "+group)
		return
	}
	special := q.Get("special")
	switch special {
	case "", domain.FlagSlowBuy, domain.FlagOneGPDump, domain.FlagSuper:
	default:
		writeError(w, http.StatusBadRequest, "unknown special filter: "+special)
		return
	}
	limit, err := queryLimit(r, 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tc *tenant.Config
	if guild := q.Get("guild_id"); guild != "" {
		tc, err = s.tenants.Get(r.Context(), guild)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid guild_id")
			return
		}
	}

	gen := s.views.Current()
	out := make([]domain.DumpEvent, 0, len(gen.Dumps))
	for _, d := range gen.Dumps {
		if tier != "" && d.Tier != tier {
			continue
		}
		if group != "" && d.TierGroup != group {
			continue
		}
		if special != "" && !d.Flags.Has(special) {
			continue
		}
		if tc != nil && !dumpPassesTenant(d, tc) {
			continue
		}
		out = append(out, d)
		if len(out) >= limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": gen.Generation,
		"built_at":   gen.BuiltAt,
		"dumps":      out,
	})
}

// dumpPassesTenant applies the tenant's tier settings to the public dump
// list: enabled tiers and the minimum tier, nothing more.
func dumpPassesTenant(d domain.DumpEvent, tc *tenant.Config) bool {
	if !tc.TierEnabled(d.Tier) {
		return false
	}
	return domain.TierOrder(d.Tier) >= domain.TierOrder(tc.MinTier)
}

func (s *Server) handleDumpDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["item_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	gen := s.views.Current()
	for _, d := range gen.Dumps {
		if d.ItemID != domain.ItemID(id) {
			continue
		}
		since := time.Now().Add(-dumpHistoryWindow).Unix()
		history, err := s.db.Prices().PriceHistory(r.Context(), d.ItemID, since)
		if err != nil {
			s.log.Error().Err(err).Int64("item", id).Msg("failed to read price history")
			writeError(w, http.StatusInternalServerError, "failed to read price history")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"dump":           d,
			"recent_history": history,
		})
		return
	}
	writeError(w, http.StatusNotFound, "no active dump for item")
}

func (s *Server) handleSpikes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gen := s.views.Current()
	spikes := gen.Spikes
	if len(spikes) > limit {
		spikes = spikes[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": gen.Generation,
		"built_at":   gen.BuiltAt,
		"spikes":     spikes,
	})
}

func (s *Server) handleAllItems(w http.ResponseWriter, r *http.Request) {
	window := 5 * time.Minute
	if raw := r.URL.Query().Get("time_window"); raw != "" {
		mins, err := strconv.Atoi(raw)
		if err != nil || mins <= 0 || mins > 1440 {
			writeError(w, http.StatusBadRequest, "time_window must be 1-1440 minutes")
			return
		}
		window = time.Duration(mins) * time.Minute
	}
	cutoff := time.Now().Add(-window).Unix()

	gen := s.views.Current()
	items := make([]domain.ItemTicker, 0, len(gen.AllItems))
	for _, it := range gen.AllItems {
		if it.Timestamp >= cutoff {
			items = append(items, it)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": gen.Generation,
		"built_at":   gen.BuiltAt,
		"count":      len(items),
		"items":      items,
	})
}

// tierView is one row of /api/tiers: the fixed scale, optionally overlaid with
// a tenant's role and enabled state.
type tierView struct {
	domain.Tier
	RoleID  string `json:"role_id,omitempty"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.db.Tiers().All(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list tiers")
		writeError(w, http.StatusInternalServerError, "failed to list tiers")
		return
	}

	var tc *tenant.Config
	if guild := r.URL.Query().Get("guild_id"); guild != "" {
		tc, err = s.tenants.Get(r.Context(), guild)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid guild_id")
			return
		}
	}

	out := make([]tierView, 0, len(tiers))
	for _, t := range tiers {
		v := tierView{Tier: t, Enabled: true}
		if tc != nil {
			v.Enabled = tc.TierEnabled(t.Name)
			if tr, ok := tc.TierRoles[t.Name]; ok {
				v.RoleID = tr.RoleID
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.pipeline.Status()
	gen := s.views.Current()

	counts, err := s.db.Prices().Counts(r.Context())
	if err != nil {
		s.log.Warn().Err(err).Msg("health: failed to count rows")
	}

	status := "ok"
	code := http.StatusOK
	if !st.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":        status,
		"poller":        st,
		"generation":    gen.Generation,
		"view_built_at": gen.BuiltAt,
		"catalog_items": s.catalog.Len(),
		"row_counts":    counts,
	})
}

// authorizeTenant accepts the tenant's own admin token or the global admin
// key, both compared in constant time.
func (s *Server) authorizeTenant(r *http.Request, tc *tenant.Config) bool {
	if token := r.Header.Get("X-Tenant-Token"); token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(tc.AdminToken)) == 1 {
			return true
		}
	}
	adminKey := s.cfg.Current().AdminKey
	if adminKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Key")), []byte(adminKey)) == 1
}

func (s *Server) handleGetTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	tc, err := s.tenants.Get(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if !s.authorizeTenant(r, tc) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, tc)
}

func (s *Server) handlePutTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenant_id"]
	current, err := s.tenants.Get(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	if !s.authorizeTenant(r, current) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var incoming tenant.Config
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config document")
		return
	}
	incoming.TenantID = tenantID
	if incoming.AdminToken == "" {
		incoming.AdminToken = current.AdminToken
	}

	if err := s.tenants.Put(r.Context(), &incoming); err != nil {
		if isTenantValidationErr(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Str("tenant", tenantID).Msg("failed to store tenant config")
		writeError(w, http.StatusInternalServerError, "failed to store config")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func isTenantValidationErr(err error) bool {
	for _, sentinel := range []error{
		tenant.ErrInvalidTenantID, tenant.ErrInvalidChannel, tenant.ErrInvalidRole,
		tenant.ErrInvalidToken, tenant.ErrInvalidWebhook, tenant.ErrInvalidThresholds,
		tenant.ErrInvalidBrackets, tenant.ErrPathEscape,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (s *Server) handleWatchlistList(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := tenant.ValidateTenantID(vars["tenant_id"]); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	entries, err := s.db.Watchlists().List(r.Context(), vars["tenant_id"], vars["user_id"])
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list watchlist")
		writeError(w, http.StatusInternalServerError, "failed to list watchlist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchlist": entries})
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := tenant.ValidateTenantID(vars["tenant_id"]); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	var body struct {
		ItemID int64 `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ItemID <= 0 {
		writeError(w, http.StatusBadRequest, "item_id required")
		return
	}
	meta, ok := s.catalog.Get(domain.ItemID(body.ItemID))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown item")
		return
	}
	entry := domain.WatchlistEntry{
		Tenant:  vars["tenant_id"],
		UserID:  vars["user_id"],
		ItemID:  meta.ID,
		Name:    meta.Name,
		AddedAt: time.Now().Unix(),
	}
	if err := s.db.Watchlists().Add(r.Context(), entry); err != nil {
		s.log.Error().Err(err).Msg("failed to add watchlist entry")
		writeError(w, http.StatusInternalServerError, "failed to add watchlist entry")
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := tenant.ValidateTenantID(vars["tenant_id"]); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	id, err := strconv.ParseInt(vars["item_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	err = s.db.Watchlists().Remove(r.Context(), vars["tenant_id"], vars["user_id"], domain.ItemID(id))
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not on watchlist")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("failed to remove watchlist entry")
		writeError(w, http.StatusInternalServerError, "failed to remove watchlist entry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleFetchRecent(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Refresh(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("catalog refresh failed")
		writeError(w, http.StatusBadGateway, "catalog refresh failed")
		return
	}

	hours := 1
	if raw := r.URL.Query().Get("hours"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h <= 0 || h > maxBackfillHours {
			writeError(w, http.StatusBadRequest, "hours must be within 1-24")
			return
		}
		hours = h
	}

	// The backfill is paced at one history call per second; run it off the
	// request and report progress through logs.
	go func() {
		stored, err := s.pipeline.Backfill(context.Background(), hours)
		if err != nil {
			s.log.Error().Err(err).Msg("backfill failed")
			return
		}
		s.log.Info().Int("windows", stored).Int("hours", hours).Msg("backfill complete")
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":         "refreshing",
		"catalog_items":  s.catalog.Len(),
		"backfill_hours": hours,
	})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Current()
	cutoff := time.Now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour).Unix()
	removed, err := s.db.Prices().Prune(r.Context(), cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("prune failed")
		writeError(w, http.StatusInternalServerError, "prune failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"removed": removed,
		"cutoff":  cutoff,
	})
}

func (s *Server) handleDBHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "down",
			"error":  err.Error(),
		})
		return
	}
	counts, err := s.db.Prices().Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count rows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"dialect":    s.db.Dialect(),
		"row_counts": counts,
	})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "reloaded",
		"ingest_period":  cfg.IngestPeriod.String(),
		"retention_days": cfg.RetentionDays,
	})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	s.setBan(w, r, true)
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	s.setBan(w, r, false)
}

func (s *Server) setBan(w http.ResponseWriter, r *http.Request, banned bool) {
	tenantID := mux.Vars(r)["tenant_id"]
	var err error
	if banned {
		err = s.tenants.Ban(r.Context(), tenantID)
	} else {
		err = s.tenants.Unban(r.Context(), tenantID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant": tenantID,
		"banned": banned,
	})
}

// queryLimit parses ?limit= with a default and an upper bound.
func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}
