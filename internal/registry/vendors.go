package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// ErrVendorName is returned when a vendor has no company name.
var ErrVendorName = errors.New("vendor company name is required")

// Vendors is the in-memory vendor registry.
type Vendors struct {
	mu      sync.RWMutex
	vendors map[string]models.Vendor
	newID   func() string
}

// NewVendors creates a registry holding the given vendors.
func NewVendors(list []models.Vendor) *Vendors {
	v := &Vendors{vendors: make(map[string]models.Vendor, len(list)), newID: uuid.NewString}
	v.Load(list)
	return v
}

// Load adds or replaces vendors, e.g. after reading them from storage.
func (v *Vendors) Load(list []models.Vendor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, vendor := range list {
		v.vendors[vendor.ID] = vendor
	}
}

// Get returns one vendor.
func (v *Vendors) Get(id string) (models.Vendor, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	vendor, ok := v.vendors[id]
	return vendor, ok
}

// List returns vendors ordered by company name.
func (v *Vendors) List() []models.Vendor {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.Vendor, 0, len(v.vendors))
	for _, vendor := range v.vendors {
		out = append(out, vendor)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].CompanyName) < strings.ToLower(out[j].CompanyName)
	})
	return out
}

// Create registers a new vendor.
func (v *Vendors) Create(d models.VendorDetails, now time.Time) (models.Vendor, error) {
	name := strings.TrimSpace(d.CompanyName)
	if name == "" {
		return models.Vendor{}, ErrVendorName
	}
	vendor := models.Vendor{
		ID:          "ven_" + v.newID(),
		CompanyName: name,
		Email:       strings.TrimSpace(d.Email),
		Phone:       strings.TrimSpace(d.Phone),
		Address:     d.Address,
		CreatedAt:   now,
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.vendors[vendor.ID] = vendor
	return vendor, nil
}
