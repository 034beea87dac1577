package models

import "time"

// Identity is the authenticated user as seen by the rest of the service.
// Created on successful sign-in/sign-up, destroyed on sign-out or account
// deletion. The password hash never leaves the identity package.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PreferenceRecord is the per-identity document read once per session start
// and merge-written after every successful weather fetch. Pointer fields
// distinguish "absent" from "set" so merge writes preserve existing values.
type PreferenceRecord struct {
	UserID    string     `json:"userId"`
	FirstName *string    `json:"firstName,omitempty"`
	LastName  *string    `json:"lastName,omitempty"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"createdAt"`
	LastCity  *string    `json:"lastCity,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// GreetingName returns the name the dashboard greets the user with:
// preference first name, then the first word of the display name, then a
// generic fallback.
func (p *PreferenceRecord) GreetingName(identity Identity) string {
	if p != nil && p.FirstName != nil && *p.FirstName != "" {
		return *p.FirstName
	}
	if identity.DisplayName != "" {
		name := identity.DisplayName
		for i, r := range name {
			if r == ' ' {
				return name[:i]
			}
		}
		return name
	}
	return "Friend"
}
