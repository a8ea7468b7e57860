/*
auth.go - Request authentication and the Principal model

PURPOSE:
  Resolves the caller's identity once per request and threads it
  through the request context. Two credential channels exist:

    X-Distributor-Auth: <device-token>     a vending machine
    Authorization: Bearer <api-token>      a customer or staff user

  Handlers never look at headers; they read the Principal from the
  context and check its kind/role.

DESIGN:
  No server-side session state. A device token maps to exactly one
  distributor code (set at boot, cleared at reset), a user token to
  one account row. Unknown or absent credentials yield an anonymous
  principal; the per-route guards decide whether that is fatal.
*/
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/brewnet/vendcore/vending"
)

// PrincipalKind discriminates the two credential channels.
type PrincipalKind string

const (
	PrincipalAnonymous PrincipalKind = "ANONYMOUS"
	PrincipalDevice    PrincipalKind = "DEVICE"
	PrincipalUser      PrincipalKind = "USER"
)

// Principal is the resolved caller identity for one request.
type Principal struct {
	Kind PrincipalKind

	// USER fields
	CustomerID int64
	Username   string
	Role       vending.Role

	// DEVICE field
	DistributorCode string
}

// IsStaff reports whether the principal may call fleet endpoints.
func (p Principal) IsStaff() bool {
	return p.Kind == PrincipalUser &&
		(p.Role == vending.RoleMaintainer || p.Role == vending.RoleManager)
}

type principalKey struct{}

// PrincipalFrom returns the request principal, anonymous if the auth
// middleware did not run.
func PrincipalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Principal{Kind: PrincipalAnonymous}
}

// WithPrincipal is exported for handler tests.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// deviceAuthHeader carries the per-boot device token.
const deviceAuthHeader = "X-Distributor-Auth"

// Authenticator resolves credentials against the store and the device
// lifecycle.
type Authenticator struct {
	Store     vending.Store
	Lifecycle *vending.DeviceLifecycle
}

// Middleware resolves the Principal for every request. Resolution
// failures fall through to anonymous; route guards reject later.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := a.resolve(r)
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) resolve(r *http.Request) Principal {
	if token := r.Header.Get(deviceAuthHeader); token != "" {
		code, err := a.Lifecycle.ResolveIdentity(r.Context(), token)
		if err == nil && code != "" {
			return Principal{Kind: PrincipalDevice, DistributorCode: code}
		}
		return Principal{Kind: PrincipalAnonymous}
	}

	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
		customer, err := a.Store.CustomerByToken(r.Context(), token)
		if err == nil && customer != nil {
			return Principal{
				Kind:       PrincipalUser,
				CustomerID: customer.ID,
				Username:   customer.Username,
				Role:       customer.Role,
			}
		}
	}
	return Principal{Kind: PrincipalAnonymous}
}

// requireDevice rejects requests that did not present a valid device
// token.
func requireDevice(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFrom(r.Context()).Kind != PrincipalDevice {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "device token required")
			return
		}
		next(w, r)
	}
}

// requireUser rejects anonymous and device callers.
func requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFrom(r.Context()).Kind != PrincipalUser {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user token required")
			return
		}
		next(w, r)
	}
}

// requireStaff rejects everyone below MAINTAINER.
func requireStaff(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		if p.Kind != PrincipalUser {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user token required")
			return
		}
		if !p.IsStaff() {
			writeError(w, http.StatusForbidden, "UNAUTHORIZED", "staff role required")
			return
		}
		next(w, r)
	}
}

// requireManager guards fleet administration.
func requireManager(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFrom(r.Context())
		if p.Kind != PrincipalUser {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "user token required")
			return
		}
		if p.Role != vending.RoleManager {
			writeError(w, http.StatusForbidden, "UNAUTHORIZED", "manager role required")
			return
		}
		next(w, r)
	}
}
