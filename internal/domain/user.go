// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUsernameLen = 36
	MaxStatusLen   = 140

	DefaultStatus = "offline"
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrStatusTooLong   = errors.New("status too long")
)

// User is the stored record for one registered username. Peers keeps
// insertion order; Status is free-form.
type User struct {
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Peers    []string `json:"peers"`
	Status   string   `json:"status"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(name, password string) (*User, error) {
	if err := ValidateUsername(name); err != nil {
		return nil, err
	}
	return &User{Name: name, Password: password, Peers: []string{}, Status: DefaultStatus}, nil
}

func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

func ValidateStatus(status string) error {
	if len(status) > MaxStatusLen {
		return ErrStatusTooLong
	}
	return nil
}

func (u *User) SetStatus(status string) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}
	u.Status = status
	return nil
}

// AddPeers appends names not already present, preserving insertion order.
func (u *User) AddPeers(names []string) {
	for _, n := range names {
		if !u.HasPeer(n) {
			u.Peers = append(u.Peers, n)
		}
	}
}

func (u *User) DeletePeers(names []string) {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := u.Peers[:0]
	for _, p := range u.Peers {
		if _, ok := drop[p]; !ok {
			kept = append(kept, p)
		}
	}
	u.Peers = kept
}

func (u *User) HasPeer(name string) bool {
	for _, p := range u.Peers {
		if p == name {
			return true
		}
	}
	return false
}
