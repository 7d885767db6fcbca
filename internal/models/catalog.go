package models

// ServiceCategory restricts which asset categories a service applies to.
type ServiceCategory string

const (
	ServiceCMVOnly    ServiceCategory = "cmv_only"
	ServiceNonCMVOnly ServiceCategory = "non_cmv_only"
	ServiceBoth       ServiceCategory = "both"
)

// ServiceType is an immutable catalog entry.
type ServiceType struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Category    ServiceCategory `json:"category" yaml:"category"`
	Group       string          `json:"group" yaml:"group"` // "Engine", "Tires & Brakes", "Inspections", "General"
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Complexity  string          `json:"complexity,omitempty" yaml:"complexity,omitempty"` // "Basic", "Moderate", "Extensive"
}

// AppliesTo reports whether the service can be scheduled for the given entity filter.
func (s ServiceType) AppliesTo(filter EntityFilter) bool {
	switch filter {
	case EntityCMV:
		return s.Category == ServiceCMVOnly || s.Category == ServiceBoth
	case EntityNonCMV:
		return s.Category == ServiceNonCMVOnly || s.Category == ServiceBoth
	case EntityAll:
		return true
	default:
		return false
	}
}
