package engine

import (
	"context"

	"github.com/cory-johannsen/multitracker/internal/game/world"
)

// Request messages. Every response channel is buffered so the loop never
// blocks on a caller that gave up.

type applyItemReq struct {
	player string
	item   string
	delta  int
	resp   chan error
}

type setFlagReq struct {
	player string
	flag   string
	resp   chan error
}

type checkLocationReq struct {
	player   string
	location string
	resp     chan error
}

type loadRulesReq struct {
	bundle *world.Bundle
	resp   chan error
}

type beginBatchReq struct {
	deferRegions bool
	resp         chan error
}

type commitBatchReq struct {
	resp chan error
}

type recalcReq struct {
	resp chan error
}

type snapshotReq struct {
	player string
	resp   chan snapshotResp
}

type snapshotResp struct {
	snap *Snapshot
	err  error
}

type staticDataReq struct {
	player string
	resp   chan staticDataResp
}

type staticDataResp struct {
	sd  *world.StaticData
	err error
}

type pingReq struct {
	resp chan struct{}
}

type readyReq struct {
	resp chan struct{}
}

type subscribeReq struct {
	player string
	ch     chan *Snapshot
	resp   chan struct{}
}

type unsubscribeReq struct {
	player string
	ch     chan *Snapshot
	resp   chan struct{}
}

func (e *Engine) send(ctx context.Context, req any) error {
	select {
	case e.mailbox <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitErr(ctx context.Context, resp chan error) error {
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyItem applies a signed inventory delta for a player. The empty player
// addresses the local slot.
func (e *Engine) ApplyItem(ctx context.Context, player, item string, delta int) error {
	req := applyItemReq{player: player, item: item, delta: delta, resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// SetFlag fires a one-time event marker for a player.
func (e *Engine) SetFlag(ctx context.Context, player, flag string) error {
	req := setFlagReq{player: player, flag: flag, resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// CheckLocation marks a location checked. Checking a local-only location
// grants its placed item as an event marker; checking never changes region
// reachability by itself.
func (e *Engine) CheckLocation(ctx context.Context, player, location string) error {
	req := checkLocationReq{player: player, location: location, resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// LoadRules replaces the loaded bundle wholesale, invalidating every cache
// and recomputing all players.
func (e *Engine) LoadRules(ctx context.Context, bundle *world.Bundle) error {
	req := loadRulesReq{bundle: bundle, resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// BeginBatchUpdate opens a batch: mutations apply to working state but no
// recompute or publish happens until CommitBatchUpdate. A second begin while
// a batch is open is a caller error (ErrBatchOpen, logged, no-op).
func (e *Engine) BeginBatchUpdate(ctx context.Context, deferRegionComputation bool) error {
	req := beginBatchReq{deferRegions: deferRegionComputation, resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// CommitBatchUpdate closes the open batch, running exactly one recompute and
// one publish per mutated player regardless of how many mutations the batch
// held.
func (e *Engine) CommitBatchUpdate(ctx context.Context) error {
	req := commitBatchReq{resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// RecalculateAccessibility forces a recompute and publish for every player.
func (e *Engine) RecalculateAccessibility(ctx context.Context) error {
	req := recalcReq{resp: make(chan error, 1)}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	return awaitErr(ctx, req.resp)
}

// Snapshot returns the player's last published snapshot. Callers that need
// a guaranteed up-to-date view call Flush first; otherwise the snapshot may
// lag pending mailbox messages.
func (e *Engine) Snapshot(ctx context.Context, player string) (*Snapshot, error) {
	req := snapshotReq{player: player, resp: make(chan snapshotResp, 1)}
	if err := e.send(ctx, req); err != nil {
		return nil, err
	}
	select {
	case r := <-req.resp:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// StaticData returns the player's immutable rules definition. StaticData is
// read-only and freely shared without locking.
func (e *Engine) StaticData(ctx context.Context, player string) (*world.StaticData, error) {
	req := staticDataReq{player: player, resp: make(chan staticDataResp, 1)}
	if err := e.send(ctx, req); err != nil {
		return nil, err
	}
	select {
	case r := <-req.resp:
		return r.sd, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// EnsureReady blocks until a rules bundle has been loaded or ctx expires.
func (e *Engine) EnsureReady(ctx context.Context) error {
	req := readyReq{resp: make(chan struct{})}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush drains the mailbox: because requests are processed strictly in
// submission order, once the ping is answered every earlier message has been
// applied. On timeout the caller keeps its last cached snapshot.
func (e *Engine) Flush(ctx context.Context) error {
	req := pingReq{resp: make(chan struct{})}
	if err := e.send(ctx, req); err != nil {
		return err
	}
	select {
	case <-req.resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers for a player's published snapshots. The channel is
// conflated: slow consumers observe the latest snapshot, not every
// intermediate one. The returned cancel function unregisters.
func (e *Engine) Subscribe(ctx context.Context, player string) (<-chan *Snapshot, func(), error) {
	ch := make(chan *Snapshot, 1)
	req := subscribeReq{player: player, ch: ch, resp: make(chan struct{})}
	if err := e.send(ctx, req); err != nil {
		return nil, nil, err
	}
	select {
	case <-req.resp:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	cancel := func() {
		unreq := unsubscribeReq{player: player, ch: ch, resp: make(chan struct{})}
		if err := e.send(context.Background(), unreq); err == nil {
			<-unreq.resp
		}
	}
	return ch, cancel, nil
}
