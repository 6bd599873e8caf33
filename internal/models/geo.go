package models

import (
	"github.com/shenikar/emergency_dispatch_system/pkg/apperror"
)

// Point - координаты в WGS84
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return apperror.Validation("invalid latitude: %f", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return apperror.Validation("invalid longitude: %f", p.Longitude)
	}
	return nil
}
