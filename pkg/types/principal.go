package types

type Role string

const (
	RoleStaff Role = "staff"
	RoleAdmin Role = "admin"
)

// Principal is the authenticated caller as supplied by the identity layer.
type Principal struct {
	ID               string           `json:"id"`
	OrganizationID   string           `json:"organizationId"`
	OrganizationType OrganizationType `json:"organizationType"`
	Role             Role             `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
