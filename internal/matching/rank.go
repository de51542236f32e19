package matching

import (
	"sort"

	"bloodlink/pkg/types"
)

// Candidate is an organization able to supply some of a request's blood group.
type Candidate struct {
	OrganizationID string  `json:"organizationId"`
	Available      int     `json:"available"`
	DistanceKm     float64 `json:"distanceKm"`
	Sufficient     bool    `json:"sufficient"`
}

// Rank orders the organizations holding stock for a request. The requester is
// never a candidate, and neither is an organization that may not hold stock.
// Sufficient holders come first, nearest first; insufficient holders follow,
// largest stock first and then nearest. Remaining ties go to the lower id.
func Rank(request *types.Request, needed int, holders map[string]int, orgs map[string]*types.Organization) []Candidate {
	candidates := make([]Candidate, 0, len(holders))
	for orgID, available := range holders {
		if orgID == request.OrganizationID || available <= 0 {
			continue
		}
		org, ok := orgs[orgID]
		if !ok || !org.Type.HoldsStock() {
			continue
		}
		candidates = append(candidates, Candidate{
			OrganizationID: orgID,
			Available:      available,
			DistanceKm:     DistanceKm(request.Location, org.Location),
			Sufficient:     available >= needed,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Sufficient != b.Sufficient {
			return a.Sufficient
		}
		if !a.Sufficient && a.Available != b.Available {
			return a.Available > b.Available
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.OrganizationID < b.OrganizationID
	})

	return candidates
}
