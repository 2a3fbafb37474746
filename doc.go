// Package auth is the authentication and authorization core shared by every
// role kind (admin, organizationAdmin, regularUser, nurse, ...).
//
// Principals:
//   - A Principal carries a role kind from the RoleRegistry, an identifier
//     unique per tenant among live principals, an optional tenant and a
//     bcrypt secret hash. Kind specific fields live in PrincipalProfile.
//     Principals are soft deleted through the bun soft_delete tag, so every
//     default query skips deleted rows.
//   - Lifecycle suspends, reinstates and deletes principals. Each change is an
//     audited mutation and revokes the principal's refresh sessions.
//
// Tokens:
//   - TokenService issues HS256 access and refresh tokens that share the
//     subject and role claims and differ by the typ claim. Verify checks the
//     signature, issuer, expiry and the expected kind.
//   - SessionRefresher rotates refresh tokens. Each refresh token can be
//     exchanged once; presenting a consumed token again revokes its family.
//
// Authorization:
//   - Guard.Check evaluates an AccessRule against a principal and a Resource.
//     Tenant mismatches and missing resources are indistinguishable.
//   - Service.Authorize runs the guard and writes one ACCESS_DENIED audit
//     entry per denial when denial auditing is enabled.
//
// Activity sinks:
//   - ActivitySink is a light-weight emitter used by the Service, the
//     refresher and the lifecycle to describe login, refresh, status and
//     denial events. Sinks run best-effort (errors are logged).
//
// Errors:
//   - Every failure carries an ErrorKind recovered with KindOf. ClassOf maps a
//     kind onto the transport class and HTTP status.
package auth
