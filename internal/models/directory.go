package models

// Directory row statuses.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Cooperative is the top-level tenant organisation.
type Cooperative struct {
	// ID is the unique identifier (UUID format).
	ID string

	// Name is the display name of the cooperative.
	Name string

	// District is the administrative district the cooperative operates in.
	District string

	// Status is ACTIVE or INACTIVE.
	Status string

	// CreatedAt is the Unix timestamp when the cooperative was registered.
	CreatedAt int64
}

// Group represents a member savings circle belonging to one cooperative.
// Its Code is the third segment of a payment reference.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// CooperativeID is the owning cooperative.
	CooperativeID string

	// Code is the short routing code, unique within the cooperative (e.g. "G001").
	Code string

	// Name is the display name of the group.
	Name string

	// Status is ACTIVE or INACTIVE. Only active groups resolve references.
	Status string

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64
}

// Member is a person saving within a group. Contact details are only kept
// in protected form (masked, encrypted and hashed).
type Member struct {
	ID            string
	CooperativeID string
	GroupID       string

	// MemberCode is the fourth segment of a payment reference, unique within the group.
	MemberCode string

	FullName string

	MsisdnMasked    string
	MsisdnEncrypted string
	MsisdnHash      string

	NationalIDMasked    string
	NationalIDEncrypted string
	NationalIDHash      string

	Status    string
	CreatedAt int64
}

// Staff roles.
const (
	RoleSystemAdmin  = "SYSTEM_ADMIN"
	RoleSaccoManager = "SACCO_MANAGER"
	RoleSaccoStaff   = "SACCO_STAFF"
	RoleSaccoViewer  = "SACCO_VIEWER"
)

// StaffProfile links an authenticated user to a role and, for everyone
// except system administrators, exactly one cooperative.
type StaffProfile struct {
	UserID        string
	CooperativeID string
	Role          string
}

// CanWrite reports whether the role may perform reconciliation write actions.
func (p *StaffProfile) CanWrite() bool {
	switch p.Role {
	case RoleSystemAdmin, RoleSaccoManager, RoleSaccoStaff:
		return true
	default:
		return false
	}
}

// MemberQuery searches members by name, masked phone or member code.
// GroupID narrows the search to one group; otherwise CooperativeID applies.
type MemberQuery struct {
	Term          string
	GroupID       string
	CooperativeID string
	Limit         int
}

// MemberMatch is one member search result.
type MemberMatch struct {
	ID           string
	FullName     string
	MemberCode   string
	MsisdnMasked string
	GroupID      string
	GroupName    string
}
