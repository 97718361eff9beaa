package domain

// SubjectType identifies who a bearer token was issued to.
type SubjectType string

const (
	SubjectTypeStaff SubjectType = "STAFF"
	// SubjectTypeService is an automation account, such as the sweep scheduler.
	SubjectTypeService SubjectType = "SERVICE"
)
