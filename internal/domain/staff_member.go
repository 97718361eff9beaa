package domain

import "time"

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleAgent    StaffRole = "AGENT"
	StaffRoleTeamLead StaffRole = "TEAM_LEAD"
	StaffRoleAdmin    StaffRole = "ADMIN"
)

// StaffMember models a support agent or administrator. Problem assignment uses
// Name as the assignee value written onto tickets.
type StaffMember struct {
	ID          string
	Name        string
	Email       string
	Role        StaffRole
	Specialties []Category
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Specializes reports whether the member lists category among their specialties.
func (s *StaffMember) Specializes(category Category) bool {
	for _, c := range s.Specialties {
		if c == category {
			return true
		}
	}
	return false
}
