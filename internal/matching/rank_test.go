package matching

import (
	"testing"

	"bloodlink/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKm(t *testing.T) {
	lagos := types.Location{Latitude: 6.5244, Longitude: 3.3792}
	abuja := types.Location{Latitude: 9.0765, Longitude: 7.3986}

	assert.Zero(t, DistanceKm(lagos, lagos))
	assert.InDelta(t, 527, DistanceKm(lagos, abuja), 10)
	assert.InDelta(t, DistanceKm(lagos, abuja), DistanceKm(abuja, lagos), 1e-9)
}

func TestRank(t *testing.T) {
	request := &types.Request{
		ID:             "req_1",
		OrganizationID: "requester",
		BloodGroup:     types.BloodGroupOPos,
		UnitsNeeded:    3,
		Location:       types.Location{Latitude: 0, Longitude: 0},
	}

	org := func(id string, typ types.OrganizationType, lng float64) *types.Organization {
		return &types.Organization{ID: id, Type: typ, Location: types.Location{Longitude: lng}}
	}
	orgs := map[string]*types.Organization{
		"requester": org("requester", types.OrganizationTypeBoth, 0),
		"near":      org("near", types.OrganizationTypeBank, 0.1),
		"far":       org("far", types.OrganizationTypeBoth, 2),
		"small":     org("small", types.OrganizationTypeBank, 0.05),
		"smaller":   org("smaller", types.OrganizationTypeBank, 0.01),
		"hospital":  org("hospital", types.OrganizationTypeHospital, 0.01),
	}
	holders := map[string]int{
		"requester": 50,
		"near":      3,
		"far":       10,
		"small":     2,
		"smaller":   1,
		"hospital":  9,
		"unknown":   9,
		"empty":     0,
	}

	got := Rank(request, 3, holders, orgs)
	require.Len(t, got, 4)

	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.OrganizationID
	}
	assert.Equal(t, []string{"near", "far", "small", "smaller"}, ids)
	assert.True(t, got[0].Sufficient)
	assert.True(t, got[1].Sufficient)
	assert.False(t, got[2].Sufficient)
	assert.Equal(t, 2, got[2].Available)
}

func TestRankTieBreaksOnID(t *testing.T) {
	request := &types.Request{OrganizationID: "requester", UnitsNeeded: 1}
	orgs := map[string]*types.Organization{
		"b": {ID: "b", Type: types.OrganizationTypeBank},
		"a": {ID: "a", Type: types.OrganizationTypeBank},
	}

	got := Rank(request, 1, map[string]int{"a": 4, "b": 4}, orgs)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].OrganizationID)
}
