package domain

// User event types
const (
	UserRegisteredType     = "UserRegistered"
	UserProfileUpdatedType = "UserProfileUpdated"
	UserEmailChangedType   = "UserEmailChanged"
	UserAddressAddedType   = "UserAddressAdded"
	UserAddressRemovedType = "UserAddressRemoved"
	UserRoleChangedType    = "UserRoleChanged"
	UserDeactivatedType    = "UserDeactivated"
	UserReactivatedType    = "UserReactivated"
)

func init() {
	registerPayload[UserRegistered]()
	registerPayload[UserProfileUpdated]()
	registerPayload[UserEmailChanged]()
	registerPayload[UserAddressAdded]()
	registerPayload[UserAddressRemoved]()
	registerPayload[UserRoleChanged]()
	registerPayload[UserDeactivated]()
	registerPayload[UserReactivated]()
}

type UserRegistered struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

type UserProfileUpdated struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

type UserEmailChanged struct {
	OldEmail string `json:"oldEmail"`
	NewEmail string `json:"newEmail"`
}

type UserAddressAdded struct {
	AddressID string  `json:"addressId"`
	Address   Address `json:"address"`
}

type UserAddressRemoved struct {
	AddressID string `json:"addressId"`
}

type UserRoleChanged struct {
	OldRole string `json:"oldRole"`
	NewRole string `json:"newRole"`
}

type UserDeactivated struct {
	Reason string `json:"reason,omitempty"`
}

type UserReactivated struct{}

func (UserRegistered) EventType() string     { return UserRegisteredType }
func (UserProfileUpdated) EventType() string { return UserProfileUpdatedType }
func (UserEmailChanged) EventType() string   { return UserEmailChangedType }
func (UserAddressAdded) EventType() string   { return UserAddressAddedType }
func (UserAddressRemoved) EventType() string { return UserAddressRemovedType }
func (UserRoleChanged) EventType() string    { return UserRoleChangedType }
func (UserDeactivated) EventType() string    { return UserDeactivatedType }
func (UserReactivated) EventType() string    { return UserReactivatedType }
