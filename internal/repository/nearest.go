package repository

import (
	"math"
	"sort"

	"muistot/api/internal/apperr"
	"muistot/api/internal/models"
)

const earthRadiusKm = 6371.0088

// haversine is the great-circle distance in kilometres.
func haversine(a, b models.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// validateNearest accepts either none or all of n, lat and lon.
func validateNearest(q models.NearestQuery) (bool, error) {
	given := 0
	for _, set := range []bool{q.N != nil, q.Lat != nil, q.Lon != nil} {
		if set {
			given++
		}
	}
	switch given {
	case 0:
		return false, nil
	case 3:
	default:
		return false, apperr.Unprocessable("n, lat and lon must be given together")
	}
	if *q.N < 1 {
		return false, apperr.Unprocessable("n must be at least 1")
	}
	if *q.Lat < -90 || *q.Lat > 90 || *q.Lon < -180 || *q.Lon > 180 {
		return false, apperr.Bad("coordinates out of range")
	}
	return true, nil
}

// nearest orders sites by distance to the query point and keeps the n closest.
func nearest(sites []models.Site, q models.NearestQuery) []models.Site {
	origin := models.Location{Lat: *q.Lat, Lon: *q.Lon}
	sort.SliceStable(sites, func(i, j int) bool {
		return haversine(origin, sites[i].Location) < haversine(origin, sites[j].Location)
	})
	if len(sites) > *q.N {
		sites = sites[:*q.N]
	}
	return sites
}
