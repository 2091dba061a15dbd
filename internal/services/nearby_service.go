// Package services – NearbyService
//
// NearbyService answers "who can I send to": connected identities behind
// the same public address, or within a radius of the caller's coordinates.
// Only display names and a human-readable distance leave the service.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gorm.io/gorm"

	"github.com/tbourn/go-drop-backend/internal/repo"
)

// SameNetwork is the distance label for address-based matches.
const SameNetwork = "Same network"

const earthRadiusKM = 6371.0

// Nearby is one visible peer.
type Nearby struct {
	Name     string `json:"name"`
	Distance string `json:"distance"`
}

// NearbyService lists peers near an identity.
type NearbyService struct {
	DB *gorm.DB
	// RadiusKM bounds geolocation matches.
	RadiusKM float64
}

// ByIP lists connected identities sharing the caller's address.
func (s *NearbyService) ByIP(ctx context.Context, identityID string) ([]Nearby, error) {
	me, err := repo.GetIdentity(ctx, s.DB, identityID)
	if err != nil {
		return nil, mapIdentityErr(err)
	}
	peers, err := repo.ListConnectedByIP(ctx, s.DB, me.IP, me.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, 0, len(peers))
	for _, p := range peers {
		out = append(out, Nearby{Name: p.Name, Distance: SameNetwork})
	}
	return out, nil
}

// ByGeolocation lists connected identities within RadiusKM of the caller,
// nearest first.
func (s *NearbyService) ByGeolocation(ctx context.Context, identityID string) ([]Nearby, error) {
	me, err := repo.GetIdentity(ctx, s.DB, identityID)
	if err != nil {
		return nil, mapIdentityErr(err)
	}
	if !me.HasGeolocation() {
		return nil, ErrNoGeolocation
	}
	peers, err := repo.ListConnectedWithGeolocation(ctx, s.DB, me.ID)
	if err != nil {
		return nil, err
	}

	type hit struct {
		name string
		km   float64
	}
	hits := make([]hit, 0, len(peers))
	for _, p := range peers {
		km := Haversine(*me.Longitude, *me.Latitude, *p.Longitude, *p.Latitude)
		if km <= s.RadiusKM {
			hits = append(hits, hit{p.Name, km})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].km != hits[j].km {
			return hits[i].km < hits[j].km
		}
		return hits[i].name < hits[j].name
	})

	out := make([]Nearby, 0, len(hits))
	for _, h := range hits {
		out = append(out, Nearby{Name: h.name, Distance: fmt.Sprintf("%.2f km", h.km)})
	}
	return out, nil
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(rad(lat1))*math.Cos(rad(lat2))
	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func mapIdentityErr(err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return ErrIdentityNotFound
	}
	return err
}
