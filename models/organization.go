package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization is the tenant root. Every rule, entity and ledger row is
// scoped to exactly one organization.
type Organization struct {
	gorm.Model
	Name     string `gorm:"not null" json:"name"`
	Timezone string `gorm:"default:'UTC'" json:"timezone"` // IANA name, e.g. America/New_York

	IsActive bool `gorm:"default:true" json:"is_active"`
}

// Location resolves the organization's timezone. Empty or unknown names
// fall back to UTC rather than failing the caller.
func (o *Organization) Location() *time.Location {
	if o.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
