// Package auth provides JWT authentication for the clinic API and the
// Caller type that carries the authenticated identity, role, and center
// scope through every core operation.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Clinic staff roles.
const (
	RoleSuperAdmin      = "superAdmin"
	RoleAdmin           = "Admin"
	RoleDoctor          = "Doctor"
	RoleReceptionist    = "Receptionist"
	RoleAccountant      = "Accountant"
	RoleLabCollector    = "LabCollector"
	RoleLabTechnician   = "LabTechnician"
	RoleSuperConsultant = "SuperConsultant"
)

// Caller is the authenticated identity making a request. Core services take
// it as an explicit parameter rather than reading ambient request state.
type Caller struct {
	UserID   uuid.UUID
	Role     string
	CenterID uuid.UUID
}

// IsSuperAdmin reports whether the caller holds the superAdmin role.
func (c Caller) IsSuperAdmin() bool { return c.Role == RoleSuperAdmin }

// IsElevated reports whether the caller may act across centers.
func (c Caller) IsElevated() bool {
	return c.Role == RoleSuperAdmin || c.Role == RoleAdmin
}

// ScopeCenter returns the center filter to apply for this caller.
// Elevated callers are unscoped (uuid.Nil means no filter).
func (c Caller) ScopeCenter() uuid.UUID {
	if c.IsElevated() {
		return uuid.Nil
	}
	return c.CenterID
}

type contextKey string

const callerKey contextKey = "caller"

// WithCaller stores the caller in the context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFromContext retrieves the caller set by the auth middleware.
// The zero Caller is returned for unauthenticated contexts.
func CallerFromContext(ctx context.Context) Caller {
	c, _ := ctx.Value(callerKey).(Caller)
	return c
}
