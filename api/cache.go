package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/servicing"
)

// =============================================================================
// PORTFOLIO READ-THROUGH CACHE
// =============================================================================

// Portfolio views are keyed per actor and as-of date, since both change the
// figures. Any successful write drops every entry under portfolioPrefix;
// the TTL bounds staleness from writes made by other replicas.
const portfolioPrefix = "portfolio:"

func portfolioKey(view string, actor servicing.User, asOf amortization.Date) string {
	return portfolioPrefix + view + ":" + actor.ID + ":" + asOf.String()
}

// cached serves dst from the cache or fills it with load and stores it.
// Cache failures are logged and fall through to load.
func (h *Handler) cached(ctx context.Context, view, key string, dst any, load func() error) error {
	if h.cache == nil {
		return load()
	}
	hit, err := h.cache.GetJSON(ctx, key, dst)
	switch {
	case err != nil:
		CacheLookups.WithLabelValues(view, "error").Inc()
		h.log.Warn("portfolio cache read failed", zap.String("key", key), zap.Error(err))
	case hit:
		CacheLookups.WithLabelValues(view, "hit").Inc()
		return nil
	default:
		CacheLookups.WithLabelValues(view, "miss").Inc()
	}

	if err := load(); err != nil {
		return err
	}
	if err := h.cache.SetJSON(ctx, key, dst); err != nil {
		h.log.Warn("portfolio cache write failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (h *Handler) invalidatePortfolio(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidatePrefix(ctx, portfolioPrefix); err != nil {
		h.log.Warn("portfolio cache invalidation failed", zap.Error(err))
	}
}

// asOfParam reads ?as_of=YYYY-MM-DD, defaulting to today.
func (h *Handler) asOfParam(r *http.Request) (amortization.Date, error) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return h.today(), nil
	}
	d, err := amortization.ParseDate(raw)
	if err != nil {
		return amortization.Date{}, &servicing.ValidationError{Field: "as_of", Message: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// =============================================================================
// PORTFOLIO HANDLERS
// =============================================================================

func (h *Handler) PortfolioSummary(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	actor := actorFrom(ctx)

	var resp PortfolioSummaryDTO
	err = h.cached(ctx, "summary", portfolioKey("summary", actor, asOf), &resp, func() error {
		sum, err := h.svc.PortfolioSummary(ctx, actor, asOf)
		if err != nil {
			return err
		}
		resp = toSummaryDTO(sum)
		resp.AsOf = asOf
		return nil
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) PortfolioHierarchy(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.asOfParam(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	ctx := r.Context()
	actor := actorFrom(ctx)

	var resp HierarchyNodeDTO
	err = h.cached(ctx, "hierarchy", portfolioKey("hierarchy", actor, asOf), &resp, func() error {
		node, err := h.svc.Hierarchy(ctx, actor, asOf)
		if err != nil {
			return err
		}
		resp = toHierarchyDTO(node)
		return nil
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
