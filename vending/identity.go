package vending

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// DeviceLifecycle issues, resolves, and revokes a machine's bearer
// credential. Per distributor the state machine is
//
//	UNPROVISIONED -> BOOTED(token) -> REVOKED -> BOOTED(new token) -> ...
//
// The token is the machine's only credential; single-use-until-reset
// semantics keep a crashed machine from rebooting into a duplicate
// identity while another instance still holds the live token.
type DeviceLifecycle struct {
	store   TxStore
	monitor MonitorGateway
}

// NewDeviceLifecycle creates a lifecycle over the store and the
// (best-effort) monitor gateway.
func NewDeviceLifecycle(store TxStore, monitor MonitorGateway) *DeviceLifecycle {
	return &DeviceLifecycle{store: store, monitor: monitor}
}

// Boot provisions a fresh token for a machine on first boot.
// ErrNotFound when the code was never administratively created;
// ErrConflict when a live token already exists - re-boot is rejected so
// a stolen or duplicated token can never silently rotate. The claim is
// a single conditional write, so concurrent boots of one machine issue
// exactly one token.
func (l *DeviceLifecycle) Boot(ctx context.Context, code string) (string, error) {
	token := uuid.NewString()
	claimed, err := l.store.ClaimDeviceToken(ctx, code, token)
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", fmt.Errorf("distributor %q already booted: %w", code, ErrConflict)
	}

	// Best effort: the monitor learns about the boot, but the boot does
	// not depend on the monitor.
	l.monitor.Heartbeat(ctx, code)

	return token, nil
}

// Reset revokes the token of the calling machine, moving it back to
// UNPROVISIONED so a subsequent Boot can issue a new one. The caller
// must already be authenticated as exactly this distributor; code is
// the resolved principal, not client input.
func (l *DeviceLifecycle) Reset(ctx context.Context, code string) error {
	return l.store.SetDeviceToken(ctx, code, "")
}

// ResolveIdentity maps a presented token back to a distributor code
// for inbound request authentication. Returns "" for unknown or blank
// tokens.
func (l *DeviceLifecycle) ResolveIdentity(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", nil
	}
	code, err := l.store.DistributorCodeByToken(ctx, token)
	if err != nil {
		return "", Persistence("lifecycle.ResolveIdentity", err)
	}
	return code, nil
}
