package service

import "github.com/spec-kit/problem-service/internal/domain"

// RoutingMethod decides how new work in a category is spread across staff.
type RoutingMethod string

const (
	// RoutingSpecialist restricts candidates to specialists when any are rostered.
	RoutingSpecialist RoutingMethod = "specialist_queue"
	// RoutingBalanced considers all staff, specialists first on ties.
	RoutingBalanced RoutingMethod = "load_balanced"
)

// CategoryPolicy is one row of the per-category routing and hint table.
type CategoryPolicy struct {
	Routing         RoutingMethod
	Specializations []domain.Category
	RootCauseHint   string
	WorkaroundHint  string
	PermanentFix    string
	Workflow        string
}

var categoryPolicies = map[domain.Category]CategoryPolicy{
	domain.CategoryNetwork: {
		Routing:         RoutingSpecialist,
		Specializations: []domain.Category{domain.CategoryNetwork, domain.CategoryInfrastructure},
		RootCauseHint:   "Check recent changes on edge devices, VPN concentrators and DNS for the affected sites.",
		WorkaroundHint:  "Fail affected users over to the secondary tunnel or site link.",
		PermanentFix:    "Remove the single point of failure and add link monitoring with alerting.",
		Workflow:        "Route to the network queue and attach device logs from the first failure.",
	},
	domain.CategoryInfrastructure: {
		Routing:         RoutingSpecialist,
		Specializations: []domain.Category{domain.CategoryInfrastructure},
		RootCauseHint:   "Correlate incidents with capacity, patching and backup windows on the affected hosts.",
		WorkaroundHint:  "Restart or fail over the affected service and free capacity.",
		PermanentFix:    "Right-size the hosts and automate the failing maintenance step.",
		Workflow:        "Route to the infrastructure queue with host metrics for the incident window.",
	},
	domain.CategorySecurity: {
		Routing:         RoutingSpecialist,
		Specializations: []domain.Category{domain.CategorySecurity},
		RootCauseHint:   "Review authentication and endpoint alerts for a shared origin.",
		WorkaroundHint:  "Reset affected credentials and isolate compromised endpoints.",
		PermanentFix:    "Close the exploited control gap and add detection for the pattern.",
		Workflow:        "Escalate to security on first occurrence and keep evidence intact.",
	},
	domain.CategoryApplication: {
		Routing:         RoutingBalanced,
		Specializations: []domain.Category{domain.CategoryApplication},
		RootCauseHint:   "Compare failure onset with the latest releases and configuration changes.",
		WorkaroundHint:  "Roll back the faulty release or toggle off the failing feature.",
		PermanentFix:    "Fix the defect and add a regression test to the release pipeline.",
		Workflow:        "Route to application support with reproduction steps and client logs.",
	},
	domain.CategoryHardware: {
		Routing:         RoutingBalanced,
		Specializations: []domain.Category{domain.CategoryHardware},
		RootCauseHint:   "Look for a shared model, batch or firmware version among affected devices.",
		WorkaroundHint:  "Swap affected devices with loaners.",
		PermanentFix:    "Replace the faulty batch or roll out the vendor firmware fix.",
		Workflow:        "Route to field support and record asset tags on every ticket.",
	},
	domain.CategoryEmail: {
		Routing:         RoutingSpecialist,
		Specializations: []domain.Category{domain.CategoryEmail, domain.CategoryApplication},
		RootCauseHint:   "Check mail flow, connectors and mailbox quotas for the affected users.",
		WorkaroundHint:  "Use webmail while the desktop client is repaired.",
		PermanentFix:    "Fix the failing connector or policy and monitor mail flow latency.",
		Workflow:        "Route to messaging support with message trace identifiers.",
	},
	domain.CategoryServiceRequest: {
		Routing:         RoutingBalanced,
		Specializations: []domain.Category{domain.CategoryServiceRequest},
		RootCauseHint:   "Identify the catalogue item or approval step generating repeated requests.",
		WorkaroundHint:  "Fulfil pending requests in bulk.",
		PermanentFix:    "Automate the request through self-service.",
		Workflow:        "Handle through the request catalogue with standard approvals.",
	},
	domain.CategoryOther: {
		Routing:        RoutingBalanced,
		RootCauseHint:  "Collect common symptoms across the linked tickets to narrow the affected component.",
		WorkaroundHint: "Apply the resolution used on the most recent resolved ticket.",
		PermanentFix:   "Recategorise the problem once the affected component is known.",
		Workflow:       "Triage with the service desk lead and recategorise the linked tickets.",
	},
}

// PolicyFor returns the policy row for category, defaulting to "other".
func PolicyFor(category domain.Category) CategoryPolicy {
	if p, ok := categoryPolicies[category]; ok {
		return p
	}
	return categoryPolicies[domain.CategoryOther]
}
