package auth

import (
	"github.com/geethx/workshop/internal/apperr"
	"github.com/geethx/workshop/internal/model"
)

// Capability names an action a role may be granted.
type Capability string

const (
	CapCatalogWrite        Capability = "catalog:write"
	CapInventoryTransition Capability = "inventory:transition"
	CapInventoryRead       Capability = "inventory:read"
	CapUsersManage         Capability = "users:manage"
)

var grants = map[Capability][]string{
	CapCatalogWrite:        {model.RoleAdmin},
	CapInventoryTransition: {model.RoleAdmin, model.RoleStaff},
	CapInventoryRead:       {model.RoleAdmin, model.RoleStaff},
	CapUsersManage:         {model.RoleAdmin, model.RoleUserAdmin},
}

// Can reports whether role holds capability c.
func Can(role string, c Capability) bool {
	for _, r := range grants[c] {
		if r == role {
			return true
		}
	}
	return false
}

// Require returns a forbidden error unless actor holds capability c.
func Require(actor *model.User, c Capability) error {
	if actor == nil {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	if !Can(actor.Role, c) {
		return apperr.New(apperr.KindForbidden, "role %s lacks %s", actor.Role, c)
	}
	return nil
}

// UserChange lists the fields a user update touches. Nil fields are left
// unchanged.
type UserChange struct {
	Name     *string
	Role     *string
	IsActive *bool
	Password *string
}

// CheckCreateUser decides whether actor may create an account with role.
// user-admin accounts are only provisioned at first start.
func CheckCreateUser(actor *model.User, role string) error {
	if actor == nil {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}
	if actor.Role != model.RoleAdmin {
		return apperr.New(apperr.KindForbidden, "only admins may create accounts")
	}
	if role == model.RoleUserAdmin {
		return apperr.New(apperr.KindForbidden, "user-admin accounts cannot be created")
	}
	return nil
}

// CheckUpdateUser decides whether actor may apply change to target.
func CheckUpdateUser(actor, target *model.User, change UserChange) error {
	if actor == nil {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}

	roleChanged := change.Role != nil && *change.Role != target.Role

	if actor.ID == target.ID {
		if roleChanged {
			return apperr.New(apperr.KindForbidden, "cannot change your own role")
		}
		if change.IsActive != nil && !*change.IsActive {
			return apperr.New(apperr.KindConflict, "cannot deactivate your own account")
		}
		return nil
	}

	switch target.Role {
	case model.RoleUserAdmin:
		return apperr.New(apperr.KindForbidden, "user-admin accounts can only be edited by themselves")
	case model.RoleAdmin:
		return apperr.New(apperr.KindForbidden, "cannot edit another admin")
	}

	if actor.Role != model.RoleAdmin {
		return apperr.New(apperr.KindForbidden, "only admins may edit other accounts")
	}
	if roleChanged && *change.Role == model.RoleUserAdmin {
		return apperr.New(apperr.KindForbidden, "cannot grant the user-admin role")
	}
	return nil
}

// CheckDeleteUser decides whether actor may delete target.
func CheckDeleteUser(actor, target *model.User) error {
	if actor == nil {
		return apperr.New(apperr.KindUnauthorized, "authentication required")
	}

	switch {
	case target.Role == model.RoleUserAdmin:
		return apperr.New(apperr.KindConflict, "user-admin accounts cannot be deleted")
	case actor.ID == target.ID:
		return apperr.New(apperr.KindConflict, "cannot delete your own account")
	case target.Role == model.RoleAdmin:
		return apperr.New(apperr.KindForbidden, "cannot delete another admin")
	case actor.Role != model.RoleAdmin:
		return apperr.New(apperr.KindForbidden, "only admins may delete accounts")
	}
	return nil
}
