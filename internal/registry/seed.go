// Package registry holds the collaborators the maintenance engine reads
// from: the service catalog, the asset registry and the vendor list.
package registry

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

//go:embed seeds/service_types.yaml
var defaultCatalog []byte

//go:embed seeds/fleet.yaml
var defaultFleet []byte

// Fleet is the seed file layout for assets and vendors.
type Fleet struct {
	Assets  []models.Asset  `yaml:"assets"`
	Vendors []models.Vendor `yaml:"vendors"`
}

// LoadCatalog reads the catalog from path, or the built-in one when path is
// empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		data = b
	}
	return ParseCatalog(data)
}

// LoadFleet reads assets and vendors from path, or the built-in demo fleet
// when path is empty.
func LoadFleet(path string) (Fleet, error) {
	data := defaultFleet
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Fleet{}, fmt.Errorf("read fleet %s: %w", path, err)
		}
		data = b
	}
	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fleet{}, fmt.Errorf("parse fleet: %w", err)
	}
	seen := make(map[string]bool, len(f.Assets))
	for _, a := range f.Assets {
		if a.ID == "" {
			return Fleet{}, fmt.Errorf("fleet asset without id")
		}
		if seen[a.ID] {
			return Fleet{}, fmt.Errorf("asset %q listed twice", a.ID)
		}
		seen[a.ID] = true
		if a.Category != models.AssetCategoryCMV && a.Category != models.AssetCategoryNonCMV {
			return Fleet{}, fmt.Errorf("asset %q: unknown category %q", a.ID, a.Category)
		}
	}
	return f, nil
}
