package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/multitracker/internal/game/logic"
	"github.com/cory-johannsen/multitracker/internal/game/reach"
	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/scripting"
)

// Sentinel errors callers branch on. These are expected conditions, not
// failures: callers degrade to cached snapshots or retry after LoadRules.
var (
	ErrNotReady        = errors.New("engine: rules not loaded")
	ErrUnknownPlayer   = errors.New("engine: unknown player")
	ErrUnknownLocation = errors.New("engine: unknown location")
	ErrBatchOpen       = errors.New("engine: batch update already open")
	ErrNoBatch         = errors.New("engine: no batch update open")
)

// DefaultMailboxSize bounds the engine mailbox when the config does not.
const DefaultMailboxSize = 256

// Config holds engine tuning knobs.
type Config struct {
	// MailboxSize bounds the request queue. 0 = DefaultMailboxSize.
	MailboxSize int
}

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithScripting wires a scripting manager whose loaded game VMs are bound
// into the helper registry on every LoadRules.
func WithScripting(mgr *scripting.Manager) Option {
	return func(e *Engine) { e.scripts = mgr }
}

// WithHelpers registers compiled-in helper functions for a game. They are
// bound into the registry on every LoadRules.
func WithHelpers(game string, helpers map[string]logic.HelperFunc) Option {
	return func(e *Engine) {
		if e.goHelpers[game] == nil {
			e.goHelpers[game] = make(map[string]logic.HelperFunc)
		}
		for name, fn := range helpers {
			e.goHelpers[game][name] = fn
		}
	}
}

// Engine owns all mutable game-logic state for one session. It behaves as an
// actor: a single loop goroutine (Run) processes requests from a bounded
// mailbox strictly in submission order, so no two mutations ever race and
// "apply A, apply B, read" always observes both.
//
// All exported methods are safe for concurrent use; they enqueue a request
// and suspend until the loop responds or the caller's context expires.
type Engine struct {
	logger    *zap.Logger
	mailbox   chan any
	scripts   *scripting.Manager
	goHelpers map[string]map[string]logic.HelperFunc

	// Everything below is owned by the loop goroutine.
	bundle       *world.Bundle
	players      map[string]*playerState
	registry     *logic.Registry
	memo         *logic.Memo
	eval         *logic.Evaluator
	revision     uint64
	batchOpen    bool
	batchDefer   bool
	dirty        map[string]bool
	readyWaiters []chan struct{}
	subs         map[string][]chan *Snapshot
}

// New creates an Engine. Call Run to start processing requests.
//
// Precondition: logger must be non-nil.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Engine {
	size := cfg.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}
	e := &Engine{
		logger:    logger,
		mailbox:   make(chan any, size),
		goHelpers: make(map[string]map[string]logic.HelperFunc),
		players:   make(map[string]*playerState),
		dirty:     make(map[string]bool),
		subs:      make(map[string][]chan *Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes mailbox requests until ctx is cancelled. It must be called
// exactly once, and it is the only goroutine that touches mutable state.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case req := <-e.mailbox:
			e.handle(req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) handle(req any) {
	switch r := req.(type) {
	case applyItemReq:
		r.resp <- e.handleApplyItem(r)
	case setFlagReq:
		r.resp <- e.handleSetFlag(r)
	case checkLocationReq:
		r.resp <- e.handleCheckLocation(r)
	case loadRulesReq:
		r.resp <- e.handleLoadRules(r)
	case beginBatchReq:
		r.resp <- e.handleBeginBatch(r)
	case commitBatchReq:
		r.resp <- e.handleCommitBatch()
	case recalcReq:
		r.resp <- e.handleRecalc()
	case snapshotReq:
		r.resp <- e.snapshotOf(r.player)
	case staticDataReq:
		r.resp <- e.staticOf(r.player)
	case pingReq:
		close(r.resp)
	case readyReq:
		if e.bundle != nil {
			close(r.resp)
		} else {
			e.readyWaiters = append(e.readyWaiters, r.resp)
		}
	case subscribeReq:
		e.subs[r.player] = append(e.subs[r.player], r.ch)
		close(r.resp)
	case unsubscribeReq:
		chans := e.subs[r.player]
		for i, ch := range chans {
			if ch == r.ch {
				e.subs[r.player] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(r.resp)
	default:
		e.logger.Warn("engine: unknown request type")
	}
}

// player resolves a slot name, defaulting the empty string to the bundle's
// local player.
func (e *Engine) player(name string) (*playerState, error) {
	if e.bundle == nil {
		e.logger.Warn("engine: operation before rules loaded")
		return nil, ErrNotReady
	}
	if name == "" {
		name = e.bundle.LocalPlayer
	}
	ps, ok := e.players[name]
	if !ok {
		e.logger.Warn("engine: unknown player", zap.String("player", name))
		return nil, ErrUnknownPlayer
	}
	return ps, nil
}

func (e *Engine) handleApplyItem(r applyItemReq) error {
	ps, err := e.player(r.player)
	if err != nil {
		return err
	}
	ps.addItem(r.item, r.delta)
	e.afterMutation(ps)
	return nil
}

func (e *Engine) handleSetFlag(r setFlagReq) error {
	ps, err := e.player(r.player)
	if err != nil {
		return err
	}
	ps.flags[r.flag] = struct{}{}
	e.afterMutation(ps)
	return nil
}

func (e *Engine) handleCheckLocation(r checkLocationReq) error {
	ps, err := e.player(r.player)
	if err != nil {
		return err
	}
	loc, ok := ps.static.Location(r.location)
	if !ok {
		e.logger.Warn("engine: check of unknown location",
			zap.String("player", ps.static.Player),
			zap.String("location", r.location),
		)
		return ErrUnknownLocation
	}
	ps.checked[loc.Name] = struct{}{}
	// A local-only location grants its placed item as an event marker; a
	// networked location's item arrives via the session layer instead.
	if loc.LocalOnly() && loc.Item != nil {
		if loc.Item.Player == "" || loc.Item.Player == ps.static.Player {
			ps.flags[loc.Item.Name] = struct{}{}
		}
	}
	e.afterMutation(ps)
	return nil
}

func (e *Engine) handleLoadRules(r loadRulesReq) error {
	if r.bundle == nil || len(r.bundle.Players) == 0 {
		return errors.New("engine: empty rules bundle")
	}

	// A new load replaces everything wholesale and invalidates all caches.
	registry := logic.NewRegistry()
	players := make(map[string]*playerState, len(r.bundle.Players))
	for name, sd := range r.bundle.Players {
		players[name] = newPlayerState(sd)
		for helperName, fn := range e.goHelpers[sd.Game] {
			registry.Register(sd.Game, helperName, fn)
		}
		if e.scripts != nil {
			e.scripts.Bind(sd.Game, registry)
		}
	}

	e.bundle = r.bundle
	e.players = players
	e.registry = registry
	e.memo = logic.NewMemo()
	e.eval = logic.NewEvaluator(registry, e.logger, e.memo)
	e.batchOpen = false
	e.batchDefer = false
	e.dirty = make(map[string]bool)
	e.invalidate()

	for name := range e.players {
		e.recomputeAndPublish(name)
	}

	for _, w := range e.readyWaiters {
		close(w)
	}
	e.readyWaiters = nil

	e.logger.Info("engine: rules loaded",
		zap.Int("players", len(e.players)),
		zap.String("local_player", e.bundle.LocalPlayer),
	)
	return nil
}

func (e *Engine) handleBeginBatch(r beginBatchReq) error {
	if e.bundle == nil {
		e.logger.Warn("engine: batch update before rules loaded")
		return ErrNotReady
	}
	if e.batchOpen {
		// Nested batches are a caller error; log and no-op rather than risk
		// a silent double-commit.
		e.logger.Warn("engine: beginBatchUpdate while batch already open")
		return ErrBatchOpen
	}
	e.batchOpen = true
	e.batchDefer = r.deferRegions
	return nil
}

func (e *Engine) handleCommitBatch() error {
	if e.bundle == nil {
		e.logger.Warn("engine: commit before rules loaded")
		return ErrNotReady
	}
	if !e.batchOpen {
		e.logger.Warn("engine: commitBatchUpdate without open batch")
		return ErrNoBatch
	}
	e.batchOpen = false
	deferRegions := e.batchDefer
	e.batchDefer = false

	// Exactly one recompute/publish per dirty player per batch, however many
	// mutations the batch held. With region computation deferred the publish
	// still happens so consumers see the mutations; the region map refreshes
	// on the next recalculation.
	for name := range e.dirty {
		if deferRegions {
			e.publish(name)
		} else {
			e.recomputeAndPublish(name)
			delete(e.dirty, name)
		}
	}
	if !deferRegions {
		e.dirty = make(map[string]bool)
	}
	return nil
}

func (e *Engine) handleRecalc() error {
	if e.bundle == nil {
		e.logger.Warn("engine: recalculate before rules loaded")
		return ErrNotReady
	}
	for name := range e.players {
		e.recomputeAndPublish(name)
	}
	e.dirty = make(map[string]bool)
	return nil
}

// afterMutation invalidates caches and, outside a batch, recomputes and
// publishes immediately. Inside a batch the player is only marked dirty.
func (e *Engine) afterMutation(ps *playerState) {
	e.invalidate()
	name := ps.static.Player
	if e.batchOpen {
		e.dirty[name] = true
		return
	}
	e.recomputeAndPublish(name)
}

// invalidate bumps the revision and drops all memoized results. The revision
// is the cache key: evaluation is pure per revision, so dropping the prior
// revision's results is the whole invalidation obligation.
func (e *Engine) invalidate() {
	e.revision++
	e.memo.Reset(e.revision)
}

func (e *Engine) recomputeAndPublish(player string) {
	ps := e.players[player]
	view := &liveView{ps: ps, eval: e.eval}
	ps.regions = reach.Compute(view, ps.static, e.eval)
	e.publish(player)
}

// publish freezes the player's state into a new snapshot and notifies
// subscribers. Sends are conflated: a slow subscriber loses intermediate
// snapshots, never blocks the loop.
func (e *Engine) publish(player string) {
	ps := e.players[player]
	snap := e.buildSnapshot(ps)
	ps.published = snap
	var targets []chan *Snapshot
	targets = append(targets, e.subs[player]...)
	if e.bundle != nil && player == e.bundle.LocalPlayer {
		// Subscribers that left the player blank follow the local slot.
		targets = append(targets, e.subs[""]...)
	}
	for _, ch := range targets {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (e *Engine) buildSnapshot(ps *playerState) *Snapshot {
	snap := &Snapshot{
		Revision:           e.revision,
		Player:             ps.static.Player,
		Inventory:          make(map[string]int, len(ps.inventory)),
		Flags:              make(map[string]struct{}, len(ps.flags)),
		CheckedLocations:   make(map[string]struct{}, len(ps.checked)),
		RegionReachability: make(map[string]reach.Reachability, len(ps.regions)),
		static:             ps.static,
		registry:           e.registry,
		logger:             e.logger,
	}
	for k, v := range ps.inventory {
		snap.Inventory[k] = v
	}
	for k := range ps.flags {
		snap.Flags[k] = struct{}{}
	}
	for k := range ps.checked {
		snap.CheckedLocations[k] = struct{}{}
	}
	for k, v := range ps.regions {
		snap.RegionReachability[k] = v
	}
	return snap
}

func (e *Engine) snapshotOf(player string) snapshotResp {
	ps, err := e.player(player)
	if err != nil {
		return snapshotResp{err: err}
	}
	return snapshotResp{snap: ps.published}
}

func (e *Engine) staticOf(player string) staticDataResp {
	ps, err := e.player(player)
	if err != nil {
		return staticDataResp{err: err}
	}
	return staticDataResp{sd: ps.static}
}
