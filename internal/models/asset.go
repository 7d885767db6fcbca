package models

import (
	"time"
)

// AssetCategory separates commercial motor vehicles from everything else.
type AssetCategory string

const (
	AssetCategoryCMV    AssetCategory = "cmv"
	AssetCategoryNonCMV AssetCategory = "non_cmv"
)

// Asset represents a fleet asset as supplied by the asset registry.
type Asset struct {
	ID                 string        `bson:"_id" json:"id" yaml:"id"`
	UnitNumber         string        `bson:"unit_number" json:"unit_number" yaml:"unit_number"`
	Category           AssetCategory `bson:"category" json:"category" yaml:"category"`
	CurrentOdometer    float64       `bson:"current_odometer" json:"current_odometer" yaml:"current_odometer"` // in miles
	CurrentEngineHours float64       `bson:"current_engine_hours" json:"current_engine_hours" yaml:"current_engine_hours"`
	MeterUpdatedAt     time.Time     `bson:"meter_updated_at" json:"meter_updated_at" yaml:"meter_updated_at"`
}

// Address is a vendor postal address.
type Address struct {
	Street        string `bson:"street" json:"street" yaml:"street"`
	Unit          string `bson:"unit,omitempty" json:"unit,omitempty" yaml:"unit,omitempty"`
	City          string `bson:"city" json:"city" yaml:"city"`
	StateProvince string `bson:"state_province" json:"state_province" yaml:"state_province"`
	PostalCode    string `bson:"postal_code" json:"postal_code" yaml:"postal_code"`
	Country       string `bson:"country" json:"country" yaml:"country"`
}

// Vendor represents a service vendor that work orders are issued to.
type Vendor struct {
	ID          string    `bson:"_id" json:"id" yaml:"id"`
	CompanyName string    `bson:"company_name" json:"company_name" yaml:"company_name"`
	Email       string    `bson:"email,omitempty" json:"email,omitempty" yaml:"email,omitempty"`
	Phone       string    `bson:"phone,omitempty" json:"phone,omitempty" yaml:"phone,omitempty"`
	Address     Address   `bson:"address" json:"address" yaml:"address"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at" yaml:"created_at"`
}

// VendorDetails describes a vendor to be created alongside an order.
type VendorDetails struct {
	CompanyName string  `json:"company_name"`
	Email       string  `json:"email"`
	Phone       string  `json:"phone"`
	Address     Address `json:"address"`
}
