package tenant

import (
	"context"
	"fmt"

	"github.com/cuemby/stash/pkg/types"
)

type currentKey struct{}
type principalKey struct{}

// WithCurrent returns a context whose current tenant is t
func WithCurrent(ctx context.Context, t *types.Tenant) context.Context {
	return context.WithValue(ctx, currentKey{}, t)
}

// Current returns the tenant bound to ctx by WithCurrent
func Current(ctx context.Context) (*types.Tenant, bool) {
	t, ok := ctx.Value(currentKey{}).(*types.Tenant)
	return t, ok && t != nil
}

// AuthenticateOwner binds t as the current tenant and its owner as the acting
// principal. Background jobs use this to act on the tenant's behalf.
func AuthenticateOwner(ctx context.Context, t *types.Tenant) context.Context {
	ctx = WithCurrent(ctx, t)
	return context.WithValue(ctx, principalKey{}, t.OwnerID)
}

// Principal returns the acting user ID bound to ctx
func Principal(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

// RequireOwner fails with ErrForbidden unless ctx is scoped to t and acts as
// its owner.
func RequireOwner(ctx context.Context, t *types.Tenant) error {
	cur, ok := Current(ctx)
	if !ok || cur.ID != t.ID {
		return fmt.Errorf("%w: context is not scoped to tenant %s", ErrForbidden, t.ID)
	}
	p, ok := Principal(ctx)
	if !ok || p != t.OwnerID {
		return fmt.Errorf("%w: principal is not the owner of tenant %s", ErrForbidden, t.ID)
	}
	return nil
}
