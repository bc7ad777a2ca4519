package domain

// JobRole is the stored slug of a user's professional role.
type JobRole string

const (
	JobRoleIndividualInventor JobRole = "individual-inventor"
	JobRoleStartupFounder     JobRole = "startup-founder"
	JobRoleOrganization       JobRole = "organization"
	JobRoleIPLawyer           JobRole = "ip-lawyer"
	JobRoleTrademarkAgent     JobRole = "trademark-agent"
	JobRoleUniversity         JobRole = "university"
	JobRoleGovernmentOfficer  JobRole = "government-officer"
	JobRoleRDOrganization     JobRole = "rd-organization"
	JobRoleForeignApplicant   JobRole = "foreign-applicant"
	JobRoleOther              JobRole = "other"
)

// JobRoleOption is one entry of the registration select.
type JobRoleOption struct {
	Value JobRole
	Text  string
}

// JobRoleOptions lists the roles in the order the registration form shows them.
var JobRoleOptions = []JobRoleOption{
	{JobRoleIndividualInventor, "Individual Inventor"},
	{JobRoleStartupFounder, "Startup Founder / Entrepreneur"},
	{JobRoleOrganization, "Organization (Small/Medium/Large)"},
	{JobRoleIPLawyer, "IP Lawyer"},
	{JobRoleTrademarkAgent, "Trademark Agent / Consultant"},
	{JobRoleUniversity, "University / Educational Institution"},
	{JobRoleGovernmentOfficer, "Government Officer / Examiner / Controller"},
	{JobRoleRDOrganization, "R&D Organization Representative"},
	{JobRoleForeignApplicant, "Foreign Applicant"},
	{JobRoleOther, "Other"},
}

// short labels used in the admin table and admin search
var jobRoleLabels = map[JobRole]string{
	JobRoleIndividualInventor: "Individual Inventor",
	JobRoleStartupFounder:     "Startup Founder",
	JobRoleOrganization:       "Organization",
	JobRoleIPLawyer:           "IP Lawyer",
	JobRoleTrademarkAgent:     "Trademark Agent",
	JobRoleUniversity:         "University",
	JobRoleGovernmentOfficer:  "Government Officer",
	JobRoleRDOrganization:     "R&D Organization",
	JobRoleForeignApplicant:   "Foreign Applicant",
	JobRoleOther:              "Other",
}

// Label returns the short display label. Unknown slugs render as themselves.
func (r JobRole) Label() string {
	if label, ok := jobRoleLabels[r]; ok {
		return label
	}
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r JobRole) Valid() bool {
	_, ok := jobRoleLabels[r]
	return ok
}

// ParseJobRole accepts a slug or a long option text and returns the slug.
// Empty input maps to JobRoleOther.
func ParseJobRole(s string) (JobRole, bool) {
	if s == "" {
		return JobRoleOther, true
	}
	if r := JobRole(s); r.Valid() {
		return r, true
	}
	for _, opt := range JobRoleOptions {
		if opt.Text == s {
			return opt.Value, true
		}
	}
	return "", false
}
