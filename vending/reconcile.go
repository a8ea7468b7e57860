package vending

import (
	"context"
	"errors"
)

// SyncSummary tallies the outcome of one reconciliation pass.
type SyncSummary struct {
	Received int `json:"received"` // entries in the monitor map
	Updated  int `json:"updated"`  // row matched and status changed
	Missing  int `json:"missing"`  // code unknown locally
	Invalid  int `json:"invalid"`  // blank code or unparseable status
}

// Empty reports whether the monitor had nothing to reconcile.
func (s SyncSummary) Empty() bool { return s.Received == 0 }

// Reconciler merges the locally authoritative distributor status with
// the external monitor's best-effort runtime view. The local store is
// the only place money and identity are decided; the monitor is an
// advisory, eventually-consistent signal about physical reachability.
type Reconciler struct {
	store   TxStore
	monitor MonitorGateway
}

// NewReconciler creates a reconciler over the store and monitor
// gateway.
func NewReconciler(store TxStore, monitor MonitorGateway) *Reconciler {
	return &Reconciler{store: store, monitor: monitor}
}

// Pull fetches the monitor's code -> status map and applies it to the
// local rows, returning a per-entry tally instead of a partial-failure
// error. The whole batch runs in one transaction: a mid-batch store
// error rolls back every update of the pass.
//
// A fetch failure yields an empty map, which surfaces as an empty
// summary ("reconciliation skipped"), never as an error.
func (r *Reconciler) Pull(ctx context.Context) (SyncSummary, error) {
	raw := r.monitor.FetchStatuses(ctx)

	summary := SyncSummary{Received: len(raw)}
	if len(raw) == 0 {
		return summary, nil
	}

	err := r.store.WithTx(ctx, func(tx Store) error {
		for code, rawStatus := range raw {
			if code == "" {
				summary.Invalid++
				continue
			}
			status, ok := ParseStatus(rawStatus)
			if !ok {
				summary.Invalid++
				continue
			}

			changed, err := tx.ApplyStatus(ctx, code, status)
			switch {
			case errors.Is(err, ErrNotFound):
				summary.Missing++
			case err != nil:
				return Persistence("reconciler.Pull", err)
			case changed:
				summary.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return SyncSummary{Received: summary.Received}, err
	}
	return summary, nil
}

// MergedStatus returns the externally reported operational status for
// one code: the pure merge of the local row and the monitor's view.
// ErrNotFound when the code does not exist locally.
func (r *Reconciler) MergedStatus(ctx context.Context, code string) (Status, error) {
	dist, err := r.store.DistributorByCode(ctx, code)
	if err != nil {
		return "", Persistence("reconciler.MergedStatus", err)
	}
	if dist == nil {
		return "", ErrNotFound
	}

	remoteRaw, known := r.monitor.FetchStatuses(ctx)[code]
	remote, ok := ParseStatus(remoteRaw)
	return MergeStatus(dist.Status, remote, known && ok), nil
}

// FleetState returns the full fleet report with each machine's status
// already merged against the monitor's current view.
func (r *Reconciler) FleetState(ctx context.Context) ([]DistributorState, error) {
	states, err := r.store.FleetState(ctx)
	if err != nil {
		return nil, Persistence("reconciler.FleetState", err)
	}

	remote := r.monitor.FetchStatuses(ctx)
	for i := range states {
		raw, known := remote[states[i].Code]
		st, ok := ParseStatus(raw)
		states[i].Status = MergeStatus(states[i].Status, st, known && ok)
	}
	return states, nil
}

// Push sends the local distributor list to the monitor, best effort.
func (r *Reconciler) Push(ctx context.Context) error {
	distributors, err := r.store.ListDistributors(ctx)
	if err != nil {
		return Persistence("reconciler.Push", err)
	}
	r.monitor.PushSnapshot(ctx, distributors)
	return nil
}
