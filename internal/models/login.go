package models

import (
	"encoding/json"
	"fmt"
)

// LoginResponse is the body returned by POST /api/auth/login.
//
// Two shapes are accepted: the flat one
//
//	{"access_token": "...", "token_type": "bearer", "role": "student",
//	 "full_name": "...", "major_id": 3, "major_name": "...", "avatar_url": "..."}
//
// and the nested one where the profile lives under "user" and roles is a list.
// Unknown fields are ignored.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        Role   `json:"role"`
	FullName    string `json:"full_name"`
	MajorID     int    `json:"major_id,omitempty"`
	MajorName   string `json:"major_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

type loginUser struct {
	FullName  string   `json:"full_name"`
	Roles     []string `json:"roles"`
	AvatarURL string   `json:"avatar_url"`
	UserMajor string   `json:"user_major"`
}

// UnmarshalJSON accepts both the flat and the nested login response shapes.
func (l *LoginResponse) UnmarshalJSON(data []byte) error {
	type flat LoginResponse
	var raw struct {
		flat
		User *loginUser `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}

	*l = LoginResponse(raw.flat)

	if u := raw.User; u != nil {
		if l.FullName == "" {
			l.FullName = u.FullName
		}
		if l.AvatarURL == "" {
			l.AvatarURL = u.AvatarURL
		}
		if l.MajorName == "" {
			l.MajorName = u.UserMajor
		}
		if l.Role == "" {
			for _, r := range u.Roles {
				if Role(r).Valid() {
					l.Role = Role(r)
					break
				}
			}
		}
	}

	return nil
}

// Major returns the major described by the response, or nil when the
// response carries no major.
func (l *LoginResponse) Major() *Major {
	if l.MajorID == 0 && l.MajorName == "" {
		return nil
	}
	return &Major{ID: l.MajorID, Name: l.MajorName}
}
