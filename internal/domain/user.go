package domain

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const UserAggregateType = "user"

type UserStatus string

const (
	UserStatusActive      UserStatus = "active"
	UserStatusDeactivated UserStatus = "deactivated"
)

// Roles a user may hold.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RoleSupport  = "support"
)

var validRoles = map[string]bool{RoleCustomer: true, RoleAdmin: true, RoleSupport: true}

type UserState struct {
	Email            string             `json:"email"`
	FirstName        string             `json:"firstName"`
	LastName         string             `json:"lastName"`
	Phone            string             `json:"phone,omitempty"`
	Role             string             `json:"role"`
	Status           UserStatus         `json:"status"`
	Addresses        map[string]Address `json:"addresses"`
	DeactivateReason string             `json:"deactivateReason,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	UpdatedAt        time.Time          `json:"updatedAt"`
}

type User struct {
	*AggregateBase
	state UserState
}

func NewUser(id string) *User {
	u := &User{}
	u.AggregateBase = newAggregateBase(id, UserAggregateType, u.apply)
	u.state.Addresses = map[string]Address{}
	return u
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return "", InvalidArgument("invalid email %q", email)
	}
	return strings.ToLower(addr.Address), nil
}

// RegisterUser creates a user. An empty role defaults to customer.
func RegisterUser(id, email, firstName, lastName, role string) (*User, error) {
	if blank(id) {
		return nil, InvalidArgument("user id is required")
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleCustomer
	}
	if !validRoles[role] {
		return nil, InvalidArgument("unknown role %q", role)
	}

	u := NewUser(id)
	if err := u.raise(UserRegistered{
		Email:     normalized,
		FirstName: firstName,
		LastName:  lastName,
		Role:      role,
	}); err != nil {
		return nil, err
	}
	return u, nil
}

func UserFromEvents(id string, events []Event) (*User, error) {
	u := NewUser(id)
	if err := u.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) Email() string      { return u.state.Email }
func (u *User) FirstName() string  { return u.state.FirstName }
func (u *User) LastName() string   { return u.state.LastName }
func (u *User) Role() string       { return u.state.Role }
func (u *User) Status() UserStatus { return u.state.Status }
func (u *User) IsActive() bool     { return u.state.Status == UserStatusActive }

// Addresses returns a copy of the saved addresses keyed by id.
func (u *User) Addresses() map[string]Address {
	return copyMap(u.state.Addresses)
}

func (u *User) AddressIDs() []string {
	ids := make([]string, 0, len(u.state.Addresses))
	for id := range u.state.Addresses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (u *User) State() UserState {
	s := u.state
	s.Addresses = copyMap(u.state.Addresses)
	return s
}

func (u *User) requireActive() error {
	switch u.state.Status {
	case UserStatusActive:
		return nil
	case "":
		return NotFound(UserAggregateType, u.ID())
	default:
		return newError(CodeInvalidStatus, "user %s is %s", u.ID(), u.state.Status)
	}
}

func (u *User) UpdateProfile(firstName, lastName, phone string) error {
	if err := u.requireActive(); err != nil {
		return err
	}
	if blank(firstName) && blank(lastName) {
		return InvalidArgument("first or last name is required")
	}
	return u.raise(UserProfileUpdated{FirstName: firstName, LastName: lastName, Phone: phone})
}

func (u *User) ChangeEmail(email string) error {
	if err := u.requireActive(); err != nil {
		return err
	}
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if normalized == u.state.Email {
		return nil
	}
	return u.raise(UserEmailChanged{OldEmail: u.state.Email, NewEmail: normalized})
}

// AddAddress stores an address and returns its generated id.
func (u *User) AddAddress(addr Address) (string, error) {
	if err := u.requireActive(); err != nil {
		return "", err
	}
	if addr.IsZero() {
		return "", InvalidArgument("address is empty")
	}
	id := uuid.New().String()
	if err := u.raise(UserAddressAdded{AddressID: id, Address: addr}); err != nil {
		return "", err
	}
	return id, nil
}

func (u *User) RemoveAddress(addressID string) error {
	if err := u.requireActive(); err != nil {
		return err
	}
	if _, ok := u.state.Addresses[addressID]; !ok {
		return newError(CodeNotFound, "address %s not found for user %s", addressID, u.ID())
	}
	return u.raise(UserAddressRemoved{AddressID: addressID})
}

func (u *User) ChangeRole(role string) error {
	if err := u.requireActive(); err != nil {
		return err
	}
	if !validRoles[role] {
		return InvalidArgument("unknown role %q", role)
	}
	if role == u.state.Role {
		return nil
	}
	return u.raise(UserRoleChanged{OldRole: u.state.Role, NewRole: role})
}

func (u *User) Deactivate(reason string) error {
	if err := u.requireActive(); err != nil {
		return err
	}
	return u.raise(UserDeactivated{Reason: reason})
}

func (u *User) Reactivate() error {
	switch u.state.Status {
	case "":
		return NotFound(UserAggregateType, u.ID())
	case UserStatusActive:
		return newError(CodeInvalidStatus, "user %s is already active", u.ID())
	}
	return u.raise(UserReactivated{})
}

func (u *User) apply(evt Event) error {
	s := &u.state
	switch e := evt.Data.(type) {
	case UserRegistered:
		s.Email = e.Email
		s.FirstName = e.FirstName
		s.LastName = e.LastName
		s.Role = e.Role
		s.Status = UserStatusActive
		s.Addresses = map[string]Address{}
		s.CreatedAt = evt.Metadata.Timestamp

	case UserProfileUpdated:
		s.FirstName = e.FirstName
		s.LastName = e.LastName
		s.Phone = e.Phone

	case UserEmailChanged:
		s.Email = e.NewEmail

	case UserAddressAdded:
		s.Addresses[e.AddressID] = e.Address

	case UserAddressRemoved:
		delete(s.Addresses, e.AddressID)

	case UserRoleChanged:
		s.Role = e.NewRole

	case UserDeactivated:
		s.Status = UserStatusDeactivated
		s.DeactivateReason = e.Reason

	case UserReactivated:
		s.Status = UserStatusActive
		s.DeactivateReason = ""

	default:
		return u.unhandled(evt)
	}

	s.UpdatedAt = evt.Metadata.Timestamp
	return nil
}

func (u *User) SnapshotState() ([]byte, error) {
	return json.Marshal(u.state)
}

func (u *User) RestoreSnapshot(version int, state []byte) error {
	var s UserState
	if err := json.Unmarshal(state, &s); err != nil {
		return fmt.Errorf("failed to restore user snapshot: %w", err)
	}
	if s.Addresses == nil {
		s.Addresses = map[string]Address{}
	}
	u.state = s
	u.restoreVersion(version)
	return nil
}
