package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Catalog is the static list of service types.
type Catalog struct {
	byID  map[string]models.ServiceType
	order []string
}

// ParseCatalog reads a YAML list of service types.
func ParseCatalog(data []byte) (*Catalog, error) {
	var entries []models.ServiceType
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse service catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]models.ServiceType, len(entries))}
	for _, st := range entries {
		if st.ID == "" || st.Name == "" {
			return nil, fmt.Errorf("service type %q: id and name are required", st.ID)
		}
		switch st.Category {
		case models.ServiceCMVOnly, models.ServiceNonCMVOnly, models.ServiceBoth:
		default:
			return nil, fmt.Errorf("service type %q: unknown category %q", st.ID, st.Category)
		}
		if _, dup := c.byID[st.ID]; dup {
			return nil, fmt.Errorf("service type %q listed twice", st.ID)
		}
		c.byID[st.ID] = st
		c.order = append(c.order, st.ID)
	}
	return c, nil
}

// Get returns one service type.
func (c *Catalog) Get(id string) (models.ServiceType, bool) {
	st, ok := c.byID[id]
	return st, ok
}

// List returns every service type in catalog order.
func (c *Catalog) List() []models.ServiceType {
	out := make([]models.ServiceType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Applicable lists the service types usable for an entity filter.
func (c *Catalog) Applicable(filter models.EntityFilter) []models.ServiceType {
	var out []models.ServiceType
	for _, st := range c.List() {
		if st.AppliesTo(filter) {
			out = append(out, st)
		}
	}
	return out
}
