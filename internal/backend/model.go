package backend

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tides-platform/console/internal/auth"
)

// User is the user object returned by the backend's auth endpoints.
type User struct {
	ID        FlexibleID `json:"id"`
	Username  string     `json:"username,omitempty"`
	Name      string     `json:"name,omitempty"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Avatar    string     `json:"avatar,omitempty"`

	RequiresPasswordChange bool `json:"requires_password_change,omitempty"`
}

// Principal converts the user into a session principal. The role is copied
// verbatim; auth.Session.Login decides whether it is acceptable.
func (u User) Principal() auth.Principal {
	return auth.Principal{
		ID:                     string(u.ID),
		Name:                   u.DisplayName(),
		Email:                  u.Email,
		Role:                   auth.Role(u.Role),
		Avatar:                 u.Avatar,
		RequiresPasswordChange: u.RequiresPasswordChange,
	}
}

// DisplayName picks name, then first and last name, then username.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// LoginResult is the backend's answer to a successful login.
type LoginResult struct {
	Token   string `json:"token"`
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// FlexibleID accepts both numeric and string identifiers.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}
