package handlers

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/commerce/internal/domain"
	"example.com/commerce/internal/repository"
)

// User command structs
type RegisterUserCommand struct {
	Meta
	AccountID string `json:"accountId"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"`
	Role      string `json:"role" validate:"omitempty,oneof=customer admin support"`
}

type UpdateUserProfileCommand struct {
	Meta
	AccountID string `json:"accountId" validate:"required"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone" validate:"omitempty,e164"`
}

type ChangeUserEmailCommand struct {
	Meta
	AccountID string `json:"accountId" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
}

type AddUserAddressCommand struct {
	Meta
	AccountID string         `json:"accountId" validate:"required"`
	Address   domain.Address `json:"address"`
}

type RemoveUserAddressCommand struct {
	Meta
	AccountID string `json:"accountId" validate:"required"`
	AddressID string `json:"addressId" validate:"required"`
}

type ChangeUserRoleCommand struct {
	Meta
	AccountID string `json:"accountId" validate:"required"`
	Role      string `json:"role" validate:"required,oneof=customer admin support"`
}

type DeactivateUserCommand struct {
	Meta
	AccountID string `json:"accountId" validate:"required"`
	Reason    string `json:"reason"`
}

type UserCommand struct {
	Meta
	AccountID string `json:"accountId" validate:"required"`
}

// UserHandler handles all user-related commands
type UserHandler struct {
	runner *Runner
	repo   *repository.Repository[*domain.User]
}

// NewUserHandler creates a new user handler
func NewUserHandler(runner *Runner, repo *repository.Repository[*domain.User]) *UserHandler {
	return &UserHandler{runner: runner, repo: repo}
}

// HandleRegisterUser registers a new user
func (h *UserHandler) HandleRegisterUser(ctx context.Context, cmd RegisterUserCommand) (*domain.User, error) {
	cmd.AccountID = newID(cmd.AccountID)
	log.Info().Str("aggregateID", cmd.AccountID).Msg("Handling RegisterUser command")

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	return create(ctx, h.runner, h.repo, "RegisterUser", cmd.AccountID, cmd.Meta, func() (*domain.User, error) {
		return domain.RegisterUser(cmd.AccountID, cmd.Email, cmd.FirstName, cmd.LastName, cmd.Role)
	})
}

func (h *UserHandler) HandleUpdateUserProfile(ctx context.Context, cmd UpdateUserProfileCommand) (*domain.User, error) {
	return handle(ctx, h.runner, h.repo, "UpdateUserProfile", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		return u.UpdateProfile(cmd.FirstName, cmd.LastName, cmd.Phone)
	})
}

func (h *UserHandler) HandleChangeUserEmail(ctx context.Context, cmd ChangeUserEmailCommand) (*domain.User, error) {
	return handle(ctx, h.runner, h.repo, "ChangeUserEmail", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		return u.ChangeEmail(cmd.Email)
	})
}

// HandleAddUserAddress adds an address and returns its id
func (h *UserHandler) HandleAddUserAddress(ctx context.Context, cmd AddUserAddressCommand) (string, error) {
	var addressID string
	_, err := handle(ctx, h.runner, h.repo, "AddUserAddress", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		id, err := u.AddAddress(cmd.Address)
		addressID = id
		return err
	})
	return addressID, err
}

func (h *UserHandler) HandleRemoveUserAddress(ctx context.Context, cmd RemoveUserAddressCommand) (*domain.User, error) {
	return handle(ctx, h.runner, h.repo, "RemoveUserAddress", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		return u.RemoveAddress(cmd.AddressID)
	})
}

func (h *UserHandler) HandleChangeUserRole(ctx context.Context, cmd ChangeUserRoleCommand) (*domain.User, error) {
	return handle(ctx, h.runner, h.repo, "ChangeUserRole", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		return u.ChangeRole(cmd.Role)
	})
}

func (h *UserHandler) HandleDeactivateUser(ctx context.Context, cmd DeactivateUserCommand) (*domain.User, error) {
	return handle(ctx, h.runner, h.repo, "DeactivateUser", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		return u.Deactivate(cmd.Reason)
	})
}

func (h *UserHandler) HandleReactivateUser(ctx context.Context, cmd UserCommand) (*domain.User, error) {
	return handle(ctx, h.runner, h.repo, "ReactivateUser", cmd.AccountID, cmd.Meta, cmd, func(u *domain.User) error {
		return u.Reactivate()
	})
}

// GetUser loads a user for queries; ok is false when it does not exist.
func (h *UserHandler) GetUser(ctx context.Context, id string) (*domain.User, bool, error) {
	return h.repo.FindByID(ctx, id)
}
