package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

var (
	// ErrUnknownAsset is returned for readings of assets not in the registry.
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrEmptyReading is returned for readings that carry no meter value.
	ErrEmptyReading = errors.New("reading has no meter values")
)

// Assets is the in-memory asset registry. Meters only move forward.
type Assets struct {
	mu     sync.RWMutex
	assets map[string]models.Asset
}

// NewAssets creates a registry holding the given assets.
func NewAssets(list []models.Asset) *Assets {
	a := &Assets{assets: make(map[string]models.Asset, len(list))}
	for _, asset := range list {
		a.assets[asset.ID] = asset
	}
	return a
}

// Get returns one asset.
func (a *Assets) Get(id string) (models.Asset, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	asset, ok := a.assets[id]
	return asset, ok
}

// List returns every asset ordered by id.
func (a *Assets) List() []models.Asset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.Asset, 0, len(a.assets))
	for _, asset := range a.assets {
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put inserts or replaces an asset.
func (a *Assets) Put(asset models.Asset) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.assets[asset.ID] = asset
}

// RecordReading applies a meter reading. Values lower than the current
// meter are ignored. The returned flag reports whether anything changed.
func (a *Assets) RecordReading(r models.MeterReading) (models.Asset, bool, error) {
	if r.Odometer == nil && r.EngineHours == nil {
		return models.Asset{}, false, ErrEmptyReading
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	asset, ok := a.assets[r.AssetID]
	if !ok {
		return models.Asset{}, false, ErrUnknownAsset
	}
	changed := false
	if r.Odometer != nil && *r.Odometer > asset.CurrentOdometer {
		asset.CurrentOdometer = *r.Odometer
		changed = true
	}
	if r.EngineHours != nil && *r.EngineHours > asset.CurrentEngineHours {
		asset.CurrentEngineHours = *r.EngineHours
		changed = true
	}
	if changed {
		if r.Timestamp.After(asset.MeterUpdatedAt) {
			asset.MeterUpdatedAt = r.Timestamp
		}
		a.assets[asset.ID] = asset
	}
	return asset, changed, nil
}
