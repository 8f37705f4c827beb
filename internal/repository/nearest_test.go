package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muistot/api/internal/apperr"
	"muistot/api/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestHaversine(t *testing.T) {
	helsinki := models.Location{Lat: 60.1699, Lon: 24.9384}
	oulu := models.Location{Lat: 65.0121, Lon: 25.4651}

	assert.InDelta(t, 540, haversine(helsinki, oulu), 5)
	assert.Zero(t, haversine(oulu, oulu))
}

func TestNearestOrdersAndTruncates(t *testing.T) {
	sites := []models.Site{
		{ID: "far", Location: models.Location{Lat: 10, Lon: 10}},
		{ID: "near", Location: models.Location{Lat: 0.1, Lon: 0.1}},
		{ID: "mid", Location: models.Location{Lat: 1, Lon: 1}},
		{ID: "here", Location: models.Location{Lat: 0, Lon: 0}},
	}
	q := models.NearestQuery{N: ptr(3), Lat: ptr(0.0), Lon: ptr(0.0)}

	got := nearest(sites, q)
	require.Len(t, got, 3)

	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"here", "near", "mid"}, ids)

	origin := models.Location{}
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, haversine(origin, got[i-1].Location), haversine(origin, got[i].Location))
	}
}

func TestValidateNearest(t *testing.T) {
	ok, err := validateNearest(models.NearestQuery{})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = validateNearest(models.NearestQuery{N: ptr(2), Lat: ptr(1.0), Lon: ptr(2.0)})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = validateNearest(models.NearestQuery{N: ptr(2), Lat: ptr(1.0)})
	assert.True(t, apperr.IsKind(err, apperr.KindUnprocessable))

	_, err = validateNearest(models.NearestQuery{N: ptr(0), Lat: ptr(1.0), Lon: ptr(2.0)})
	assert.True(t, apperr.IsKind(err, apperr.KindUnprocessable))

	_, err = validateNearest(models.NearestQuery{N: ptr(1), Lat: ptr(91.0), Lon: ptr(2.0)})
	assert.True(t, apperr.IsKind(err, apperr.KindBad))
}
