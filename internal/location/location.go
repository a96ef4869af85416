// Package location provides the last-known position attached to uploads.
package location

import (
	"sync"

	"obdrelay/internal/models"
)

// Provider returns the last known coordinate, or false when there is no fix.
type Provider interface {
	Location() (models.Coordinate, bool)
}

// None never has a fix.
type None struct{}

func (None) Location() (models.Coordinate, bool) { return models.Coordinate{}, false }

// Static reports a fixed position, for installations that do not move.
type Static struct {
	mu    sync.RWMutex
	coord models.Coordinate
	set   bool
}

func NewStatic(lat, lon float64) *Static {
	return &Static{coord: models.Coordinate{Latitude: lat, Longitude: lon}, set: true}
}

// Set replaces the reported position.
func (s *Static) Set(c models.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coord = c
	s.set = true
}

func (s *Static) Location() (models.Coordinate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coord, s.set
}
