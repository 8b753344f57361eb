package auth

import "context"

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
// Handlers downstream of the authentication middleware read it back with
// PrincipalFromContext.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
