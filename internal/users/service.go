package users

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 150
	MinPasswordLength = 8
)

const usernameConstraint = "ux_users_username"

// Service manages customer records.
type Service interface {
	Create(ctx context.Context, input CreateUserInput) (*UserDTO, error)
	Get(ctx context.Context, id uint64) (*UserDTO, error)
}

type passwordHasher interface {
	Hash(password string) (string, error)
}

type service struct {
	repo     *Repository
	hasher   passwordHasher
	validate *validator.Validate
}

// NewService constructs the users service.
func NewService(repo *Repository, hasher passwordHasher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("password hasher required")
	}
	return &service{repo: repo, hasher: hasher, validate: validator.New()}, nil
}

// Create validates the registration, hashes the password and stores the user.
func (s *service) Create(ctx context.Context, input CreateUserInput) (*UserDTO, error) {
	username := strings.TrimSpace(input.Username)
	email := strings.ToLower(strings.TrimSpace(input.Email))

	details := map[string]string{}
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		details["username"] = fmt.Sprintf("must be between %d and %d characters", MinUsernameLength, MaxUsernameLength)
	}
	if err := s.validate.Var(email, "omitempty,email"); err != nil {
		details["email"] = "must be a valid email"
	}
	if utf8.RuneCountInString(input.Password) < MinPasswordLength {
		details["password"] = fmt.Sprintf("must be at least %d", MinPasswordLength)
	}
	if len(details) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	user := &models.User{Username: username, Email: email, PasswordHash: hash}
	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err, usernameConstraint) || db.IsUniqueViolation(err, "users.username") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("username %q is already taken", username)).
				WithDetails(map[string]string{"username": "is already taken"})
		}
		return nil, repo.Translate(err, "user", 0)
	}
	return FromModel(user), nil
}

func (s *service) Get(ctx context.Context, id uint64) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repo.Translate(err, "user", id)
	}
	return FromModel(user), nil
}
