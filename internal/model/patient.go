package model

import "time"

type VerificationStatus string

const (
	VerificationPending      VerificationStatus = "pending"
	VerificationVerified     VerificationStatus = "verified"
	VerificationDeclined     VerificationStatus = "declined"
	VerificationUnsubscribed VerificationStatus = "unsubscribed"
	VerificationExpired      VerificationStatus = "expired"
)

// Settled reports whether a verification reply can no longer change the status.
// Unsubscribe is handled separately and always applies.
func (s VerificationStatus) Settled() bool {
	return s != VerificationPending
}

type Patient struct {
	ID                 string
	Name               string
	PhoneNumber        string
	VerificationStatus VerificationStatus
	IsActive           bool
	// Onboarding marks stub patients created from an unknown sender, awaiting staff assignment.
	Onboarding              bool
	AssignedVolunteerID     *string
	VerificationRespondedAt *time.Time
	DeletedAt               *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// DisplayName falls back to the phone number for stub patients.
func (p *Patient) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.PhoneNumber
}
