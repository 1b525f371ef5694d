package handlers

import (
	"net/http"

	"github.com/reelcut/backend/internal/modules/entitlement"
)

// CatalogHandler serves the public tier table
type CatalogHandler struct {
	resolver *entitlement.Resolver
	prices   *entitlement.PriceMapper
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(resolver *entitlement.Resolver, prices *entitlement.PriceMapper) *CatalogHandler {
	return &CatalogHandler{resolver: resolver, prices: prices}
}

// CatalogTier is one row of the published catalog
type CatalogTier struct {
	Tier      entitlement.Tier             `json:"tier"`
	OnLadder  bool                         `json:"onLadder"`
	Paid      bool                         `json:"paid"`
	Features  entitlement.ResolvedFeatures `json:"features"`
	Intervals []entitlement.Interval       `json:"intervals"`
}

// CatalogResponse is the body of GET /catalog
type CatalogResponse struct {
	Version string                         `json:"version"`
	Tiers   []CatalogTier                  `json:"tiers"`
	Presets []entitlement.PresetDefinition `json:"presets"`
}

// Get returns every tier's resolved features in ladder order, founder last,
// with the billing intervals that are currently purchasable
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	tiers := entitlement.AllTiers()
	resp := CatalogResponse{
		Version: h.resolver.Catalog().Version(),
		Tiers:   make([]CatalogTier, 0, len(tiers)),
		Presets: entitlement.Presets(),
	}
	for _, t := range tiers {
		row := CatalogTier{
			Tier:      t,
			OnLadder:  t.OnLadder(),
			Paid:      t.IsPaid(),
			Features:  h.resolver.Resolve(t, nil),
			Intervals: []entitlement.Interval{},
		}
		for _, i := range entitlement.Intervals() {
			if h.prices.PriceIDFor(t, i) != "" {
				row.Intervals = append(row.Intervals, i)
			}
		}
		resp.Tiers = append(resp.Tiers, row)
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	respondJSON(w, http.StatusOK, resp)
}
