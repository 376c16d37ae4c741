package domain

import (
	"strings"
	"time"
)

// LocationReading is the latest stored position of an identity. Readings are
// volatile snapshots: fetched per recomputation, never cached.
type LocationReading struct {
	Latitude   float64
	Longitude  float64
	ObservedAt time.Time
}

// NearbyUser is one row of a nearest-neighbor result, ordered ascending by
// distance from the query point.
type NearbyUser struct {
	Identity   string  `json:"identity"`
	Name       string  `json:"name,omitempty"`
	Category   string  `json:"category,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	DistanceKm float64 `json:"distance"`
}

// NearbyQuery bounds a nearest-neighbor lookup.
type NearbyQuery struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	Category  string
	Exclude   string
}

// WatcherConfig is the last nearby request issued by an identity. It holds
// the fixed query point from that request; a new request overwrites it.
type WatcherConfig struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
	Category  string
}

// TracePair is the unordered identity pair a proximity trace monitors,
// stored in canonical (sorted) order so that {a,b} and {b,a} collide.
type TracePair struct {
	First  string
	Second string
}

func NewTracePair(a, b string) TracePair {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return TracePair{First: a, Second: b}
}

// Key is the map key for the trace set.
func (p TracePair) Key() string {
	return p.First + "|" + p.Second
}

func (p TracePair) Contains(identity string) bool {
	return p.First == identity || p.Second == identity
}
