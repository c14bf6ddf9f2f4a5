// Package identity authenticates users and applies account changes under the
// rules in package auth.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/store"
	"github.com/geethx/workshop/internal/validation"
)

type Config struct {
	AllowRegistration bool
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service owns accounts and credentials.
type Service struct {
	db     *sql.DB
	issuer *auth.Issuer
	cfg    Config
}

func New(db *sql.DB, issuer *auth.Issuer, cfg Config) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{db: db, issuer: issuer, cfg: cfg}
}

// Session is an issued credential and the user it belongs to.
type Session struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=admin staff user-admin"`
}

type CreateUserInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=admin staff user-admin"`
}

type UpdateUserInput struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Role     *string `json:"role" validate:"omitempty,oneof=admin staff user-admin"`
	IsActive *bool   `json:"isActive"`
	Password *string `json:"password"`
}

// Authenticate checks a name and password and issues a credential.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return nil, apperr.New(apperr.KindInvalidCredentials, "invalid credentials")
	}

	user, err := store.GetUserByName(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		slog.Warn("login failed", "user", name)
		return nil, apperr.New(apperr.KindInvalidCredentials, "invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("login failed", "user", name)
		return nil, apperr.New(apperr.KindInvalidCredentials, "invalid credentials")
	}

	slog.Info("user logged in", "user", user.Name, "role", user.Role)
	return s.session(user)
}

// Register creates an account for an unauthenticated caller and signs it in.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if !s.cfg.AllowRegistration {
		return nil, apperr.New(apperr.KindForbidden, "registration is disabled")
	}

	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = model.RoleStaff
	}
	if in.Role == model.RoleUserAdmin {
		return nil, apperr.Validation("role", "oneof", "user-admin accounts cannot be registered")
	}

	user, err := s.createUser(ctx, in.Name, in.Password, in.Role)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "user", user.Name, "role", user.Role)
	return s.session(user)
}

// Principal resolves a bearer token to the current state of its user.
// Revoked tokens and deleted or deactivated users are unauthorized.
func (s *Service) Principal(ctx context.Context, token string) (*model.User, *auth.Claims, error) {
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindUnauthorized, err, "invalid token")
	}

	revoked, err := store.IsTokenRevoked(ctx, s.db, claims.ID, time.Now())
	if err != nil {
		return nil, nil, err
	}
	if revoked {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "token has been revoked")
	}

	user, err := store.GetUser(ctx, s.db, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !user.IsActive {
		return nil, nil, apperr.New(apperr.KindUnauthorized, "account is not active")
	}

	return user, claims, nil
}

// Logout revokes the credential until it would have expired.
func (s *Service) Logout(ctx context.Context, claims *auth.Claims) error {
	expires := time.Now().Add(auth.DefaultTokenTTL)
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	if err := store.RevokeToken(ctx, s.db, claims.ID, expires); err != nil {
		return err
	}
	slog.Info("user logged out", "user", claims.Name)
	return nil
}

// PruneRevocations drops revocations of tokens that have since expired.
func (s *Service) PruneRevocations(ctx context.Context) (int64, error) {
	return store.PruneRevokedTokens(ctx, s.db, time.Now())
}

// ChangePassword replaces the actor's own password after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, actor *model.User, current, next string) error {
	if current == "" || next == "" {
		return apperr.Validation("newPassword", "required", "current and new password required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(current)); err != nil {
		return apperr.New(apperr.KindInvalidCredentials, "current password is incorrect")
	}
	if err := s.setPassword(ctx, actor.ID, next); err != nil {
		return err
	}
	slog.Info("user changed own password", "user", actor.Name)
	return nil
}

func (s *Service) ListUsers(ctx context.Context, actor *model.User) ([]model.User, error) {
	if err := auth.Require(actor, auth.CapUsersManage); err != nil {
		return nil, err
	}
	return store.ListUsers(ctx, s.db)
}

func (s *Service) GetUser(ctx context.Context, actor *model.User, id int64) (*model.User, error) {
	if err := auth.Require(actor, auth.CapUsersManage); err != nil {
		return nil, err
	}
	return s.mustGetUser(ctx, id)
}

// CreateUser adds an account on behalf of actor.
func (s *Service) CreateUser(ctx context.Context, actor *model.User, in CreateUserInput) (*model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if err := auth.CheckCreateUser(actor, in.Role); err != nil {
		return nil, err
	}

	user, err := s.createUser(ctx, in.Name, in.Password, in.Role)
	if err != nil {
		return nil, err
	}

	slog.Info("user created", "user", actor.Name, "new_user", user.Name, "role", user.Role)
	return user, nil
}

// UpdateUser applies the non-nil fields of in to user id.
func (s *Service) UpdateUser(ctx context.Context, actor *model.User, id int64, in UpdateUserInput) (*model.User, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	target, err := s.mustGetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	change := auth.UserChange{Name: in.Name, Role: in.Role, IsActive: in.IsActive, Password: in.Password}
	if err := auth.CheckUpdateUser(actor, target, change); err != nil {
		return nil, err
	}

	updated := *target
	if in.Name != nil {
		updated.Name = *in.Name
	}
	if in.Role != nil {
		updated.Role = *in.Role
	}
	if in.IsActive != nil {
		updated.IsActive = *in.IsActive
	}

	// Hash before writing so a weak password leaves the account untouched.
	var hash string
	if in.Password != nil {
		if hash, err = s.hash(*in.Password); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning user update: %w", err)
	}
	defer tx.Rollback()

	if updated != *target {
		if err := store.UpdateUser(ctx, tx, &updated); err != nil {
			if store.IsUniqueViolation(err) {
				return nil, apperr.New(apperr.KindDuplicateName, "name %q is already taken", updated.Name)
			}
			return nil, err
		}
	}
	if in.Password != nil {
		if err := store.UpdateUserPassword(ctx, tx, id, hash); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing user update: %w", err)
	}

	slog.Info("user updated", "user", actor.Name, "target_user", updated.Name, "role", updated.Role, "active", updated.IsActive)
	return s.mustGetUser(ctx, id)
}

// DeleteUser removes an account on behalf of actor.
func (s *Service) DeleteUser(ctx context.Context, actor *model.User, id int64) error {
	target, err := s.mustGetUser(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.CheckDeleteUser(actor, target); err != nil {
		return err
	}
	if err := store.DeleteUser(ctx, s.db, id); err != nil {
		return err
	}
	slog.Info("user deleted", "user", actor.Name, "deleted_user", target.Name)
	return nil
}

// Provision creates an account without a policy check. It is used to seed
// the first accounts of a new database.
func (s *Service) Provision(ctx context.Context, name, password, role string) (*model.User, error) {
	if !model.ValidRole(role) {
		return nil, apperr.Validation("role", "oneof", "unknown role")
	}
	return s.createUser(ctx, name, password, role)
}

func (s *Service) createUser(ctx context.Context, name, password, role string) (*model.User, error) {
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	user, err := store.CreateUser(ctx, s.db, name, hash, role)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.KindDuplicateName, "name %q is already taken", name)
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) setPassword(ctx context.Context, id int64, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	return store.UpdateUserPassword(ctx, s.db, id, hash)
}

func (s *Service) hash(password string) (string, error) {
	if err := model.ValidatePassword(password); err != nil {
		return "", apperr.New(apperr.KindWeakPassword, "%s", err.Error())
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", apperr.Validation("password", "max", "must be at most 72 bytes")
		}
		return "", err
	}
	return string(hash), nil
}

func (s *Service) mustGetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := store.GetUser(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.New(apperr.KindNotFound, "user %d not found", id)
	}
	return user, nil
}

func (s *Service) session(user *model.User) (*Session, error) {
	token, _, err := s.issuer.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user}, nil
}
