// Package tenant resolves tenant records and scopes work to a tenant.
//
// The current tenant and the acting principal travel in a context.Context
// instead of ambient state: a migration job calls AuthenticateOwner once and
// every owner-scoped operation below it (such as committing storage settings)
// checks the context with RequireOwner.
package tenant
