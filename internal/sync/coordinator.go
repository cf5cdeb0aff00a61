// Package sync drives the board synchronization lifecycle: debounced pushes
// of locally dirty boards, periodic pull-then-push cycles against the remote
// store, asset transfer, and deletion reconciliation.
//
// All coordinator state (debounce generation, in-flight flags, the pending
// deletion set) is owned by a single goroutine reading a command channel.
// Network work runs on worker goroutines; their results are folded back into
// the loop as commands, never by shared mutation.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/miokidk/astra-sync/internal/board"
	"github.com/miokidk/astra-sync/internal/merge"
	"github.com/miokidk/astra-sync/internal/remote"
	"github.com/miokidk/astra-sync/internal/session"
	"github.com/miokidk/astra-sync/internal/store"
)

type cmdKind int

const (
	cmdLocalChange cmdKind = iota
	cmdBoardDeleted
	cmdSyncNow
	cmdDebounceFired
	cmdPushDone
	cmdCycleDone
)

type command struct {
	kind   cmdKind
	id     uuid.UUID
	gen    uint64
	reason string
	push   pushResult
	cycle  cycleResult
}

type pushResult struct {
	pushed    int
	conflicts int
	deleted   []uuid.UUID
	lastErr   error
}

type pullResult struct {
	rows      int
	conflicts int
	newSince  time.Time
	err       error
}

type cycleResult struct {
	pull      pullResult
	push      pushResult
	ranPush   bool
	cancelled bool
}

// Coordinator owns the sync lifecycle for one boards directory and one
// signed-in user.
type Coordinator struct {
	local   LocalStore
	remote  RemoteStore
	assets  *AssetSynchronizer
	state   *store.StateTracker
	session Session
	log     *Log

	debounce     time.Duration
	pollInterval time.Duration

	mu      stdsync.Mutex
	running bool
	cancel  context.CancelFunc
	runCtx  context.Context
	done    chan struct{}
	cmds    chan command
	events  <-chan session.Event // one subscription, held across restarts
}

// Options tune the coordinator's scheduling.
type Options struct {
	Debounce     time.Duration // quiet period after the last local change
	PollInterval time.Duration // cadence of full pull-then-push cycles
}

// NewCoordinator wires a coordinator. Defaults: 500ms debounce, 60s poll.
func NewCoordinator(local LocalStore, rs RemoteStore, assets *AssetSynchronizer,
	state *store.StateTracker, sess Session, opts Options) *Coordinator {

	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 60 * time.Second
	}
	return &Coordinator{
		local:        local,
		remote:       rs,
		assets:       assets,
		state:        state,
		session:      sess,
		log:          &Log{},
		debounce:     opts.Debounce,
		pollInterval: opts.PollInterval,
	}
}

// Log exposes the last pull/push outcomes for status display.
func (c *Coordinator) Log() *Log {
	return c.log
}

// Start begins periodic pulling and starts observing session events.
// Idempotent. When no user is signed in this is a quiet no-op; the host is
// expected to call Start again after sign-in.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	owner, ok := c.session.CurrentUserID()
	if !ok {
		slog.Info("sync disabled: not signed in")
		return nil
	}
	if c.remote == nil {
		slog.Info("sync disabled: remote store not configured")
		return nil
	}

	if c.events == nil {
		c.events = c.session.Events()
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.runCtx = runCtx
	c.done = make(chan struct{})
	c.cmds = make(chan command, 32)

	go c.run(runCtx, owner)
	slog.Info("sync coordinator started", "owner", owner)
	return nil
}

// Stop cancels all in-flight work, waits for the loop to exit, and discards
// any armed debounce. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
	slog.Info("sync coordinator stopped")
}

// NoteLocalChange schedules a debounced push after a local edit. Each call
// restarts the quiet period (trailing edge); K calls inside the window
// coalesce into one push.
func (c *Coordinator) NoteLocalChange(id uuid.UUID) {
	c.send(command{kind: cmdLocalChange, id: id})
}

// NoteBoardDeleted queues a board for remote deletion and schedules a
// debounced push.
func (c *Coordinator) NoteBoardDeleted(id uuid.UUID) {
	c.send(command{kind: cmdBoardDeleted, id: id})
}

// SyncNow requests one full pull-then-push cycle. A no-op while a cycle or
// push is already in flight: periodic and foreground triggers must not pile
// up.
func (c *Coordinator) SyncNow(reason string) {
	c.send(command{kind: cmdSyncNow, reason: reason})
}

// NoteForeground is the app-foreground trigger.
func (c *Coordinator) NoteForeground() {
	c.SyncNow("foreground")
}

// RunOnce executes a single pull-then-push cycle synchronously, outside the
// event loop. For one-shot command use; not meant to be mixed with Start.
func (c *Coordinator) RunOnce(ctx context.Context) error {
	owner, ok := c.session.CurrentUserID()
	if !ok {
		return ErrNotSignedIn
	}
	if c.remote == nil {
		return ErrNotConfigured
	}
	c.adoptOwner(owner)

	st := &loopState{owner: owner, pending: make(map[uuid.UUID]bool)}
	for _, id := range c.state.PendingDeletions() {
		st.pending[id] = true
	}

	res := c.runCycle(ctx, owner, c.state.LastPull(), snapshotPending(st.pending))
	c.applyCycle(st, res)
	if res.pull.err != nil {
		return res.pull.err
	}
	return res.push.lastErr
}

// adoptOwner binds the persisted sync state to the current user. State left
// behind by a different user (their last-pull cursor, their queued
// deletions) is discarded so the new user starts from a full pull.
func (c *Coordinator) adoptOwner(owner string) {
	if prev := c.state.Owner(); prev != "" && prev != owner {
		slog.Info("sync state belonged to another user, resetting", "previous", prev)
		c.state.Clear()
	}
	c.state.SetOwner(owner)
	if err := c.state.Save(); err != nil {
		slog.Warn("failed to save sync state", "error", err)
	}
}

// send delivers a command to the loop; dropped when the coordinator is not
// running.
func (c *Coordinator) send(cmd command) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	runCtx, cmds := c.runCtx, c.cmds
	c.mu.Unlock()

	select {
	case cmds <- cmd:
	case <-runCtx.Done():
	}
}

// loopState is owned exclusively by the run goroutine.
type loopState struct {
	owner          string
	gen            uint64
	cycleInFlight  bool
	pushInFlight   bool
	needsPushAfter bool
	pending        map[uuid.UUID]bool
}

func (c *Coordinator) run(ctx context.Context, owner string) {
	defer func() {
		c.mu.Lock()
		c.running = false
		cancel := c.cancel
		c.mu.Unlock()
		// The loop can also exit on its own (sign-out, closed event
		// channel); in-flight workers get cancelled the same as on Stop.
		cancel()
		close(c.done)
	}()

	c.adoptOwner(owner)

	st := &loopState{
		owner:   owner,
		pending: make(map[uuid.UUID]bool),
	}
	// Deletions queued before the last shutdown survive restarts.
	for _, id := range c.state.PendingDeletions() {
		st.pending[id] = true
	}

	events := c.events
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	c.startCycle(ctx, st, "startup")

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case session.SignedOut:
				slog.Info("signed out, stopping sync")
				if err := c.state.Save(); err != nil {
					slog.Warn("failed to save sync state", "error", err)
				}
				return
			case session.SignedIn:
				// Already running for this session; a fresh sign-in just
				// warrants a cycle.
				c.startCycle(ctx, st, "sign-in")
			}

		case <-ticker.C:
			c.startCycle(ctx, st, "periodic")

		case cmd := <-c.cmds:
			c.handle(ctx, st, cmd)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, st *loopState, cmd command) {
	switch cmd.kind {
	case cmdLocalChange:
		dirty, err := c.local.NoteExternalWrite(cmd.id)
		if err != nil {
			slog.Warn("failed to flag changed board", "board", cmd.id, "error", err)
			return
		}
		if !dirty {
			return // our own file write echoed back by the watcher
		}
		c.armDebounce(ctx, st)

	case cmdBoardDeleted:
		st.pending[cmd.id] = true
		c.state.AddPendingDeletion(cmd.id)
		if err := c.state.Save(); err != nil {
			slog.Warn("failed to persist pending deletion", "board", cmd.id, "error", err)
		}
		c.armDebounce(ctx, st)

	case cmdDebounceFired:
		if cmd.gen != st.gen {
			return // superseded by a newer change
		}
		c.startPush(ctx, st)

	case cmdSyncNow:
		c.startCycle(ctx, st, cmd.reason)

	case cmdPushDone:
		st.pushInFlight = false
		c.applyPush(st, cmd.push)
		if st.needsPushAfter {
			st.needsPushAfter = false
			c.armDebounce(ctx, st)
		}

	case cmdCycleDone:
		st.cycleInFlight = false
		c.applyCycle(st, cmd.cycle)
		if st.needsPushAfter {
			st.needsPushAfter = false
			c.armDebounce(ctx, st)
		}
	}
}

// armDebounce restarts the trailing-edge debounce timer. Only the latest
// generation's fire is honored.
func (c *Coordinator) armDebounce(ctx context.Context, st *loopState) {
	st.gen++
	gen := st.gen
	time.AfterFunc(c.debounce, func() {
		select {
		case c.cmds <- command{kind: cmdDebounceFired, gen: gen}:
		case <-ctx.Done():
		}
	})
}

// startPush launches a push pass unless one (or a full cycle) is already
// executing, in which case the request is deferred to run when the current
// work completes.
func (c *Coordinator) startPush(ctx context.Context, st *loopState) {
	if st.cycleInFlight || st.pushInFlight {
		st.needsPushAfter = true
		return
	}
	st.pushInFlight = true
	pending := snapshotPending(st.pending)
	owner := st.owner

	go func() {
		res := c.runPush(ctx, owner, pending)
		select {
		case c.cmds <- command{kind: cmdPushDone, push: res}:
		case <-ctx.Done():
		}
	}()
}

// startCycle launches a full pull-then-push cycle unless one is already in
// flight. Deliberately does not set needsPushAfter: only debounced pushes
// defer themselves.
func (c *Coordinator) startCycle(ctx context.Context, st *loopState, reason string) {
	if st.cycleInFlight || st.pushInFlight {
		slog.Debug("cycle skipped, sync in flight", "reason", reason)
		return
	}
	st.cycleInFlight = true
	pending := snapshotPending(st.pending)
	owner := st.owner
	since := c.state.LastPull()

	slog.Debug("cycle starting", "reason", reason)
	go func() {
		res := c.runCycle(ctx, owner, since, pending)
		select {
		case c.cmds <- command{kind: cmdCycleDone, cycle: res}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) applyPush(st *loopState, res pushResult) {
	for _, id := range res.deleted {
		delete(st.pending, id)
		c.state.RemovePendingDeletion(id)
	}
	if err := c.state.Save(); err != nil {
		slog.Warn("failed to save sync state", "error", err)
	}

	entry := LogEntry{
		At:        time.Now(),
		OK:        res.lastErr == nil,
		Rows:      res.pushed,
		Conflicts: res.conflicts,
	}
	if res.lastErr != nil {
		if isCancellation(res.lastErr) {
			return // stop() raced the push; not a failure
		}
		entry.Err = res.lastErr.Error()
		slog.Error("push finished with errors", "pushed", res.pushed, "error", res.lastErr)
	} else {
		slog.Debug("push finished", "pushed", res.pushed, "conflicts", res.conflicts)
	}
	c.log.RecordPush(entry)
}

func (c *Coordinator) applyCycle(st *loopState, res cycleResult) {
	if res.cancelled {
		return
	}

	pullEntry := LogEntry{
		At:        time.Now(),
		OK:        res.pull.err == nil,
		Rows:      res.pull.rows,
		Conflicts: res.pull.conflicts,
	}
	if res.pull.err != nil {
		pullEntry.Err = res.pull.err.Error()
		slog.Error("pull failed, push phase skipped", "error", res.pull.err)
	} else {
		if !res.pull.newSince.IsZero() {
			c.state.SetLastPull(res.pull.newSince)
		}
		slog.Debug("pull finished", "rows", res.pull.rows, "conflicts", res.pull.conflicts)
	}
	c.log.RecordPull(pullEntry)

	if res.ranPush {
		c.applyPush(st, res.push)
	} else if err := c.state.Save(); err != nil {
		slog.Warn("failed to save sync state", "error", err)
	}
}

func snapshotPending(pending map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(pending))
	for id := range pending {
		out = append(out, id)
	}
	return out
}

// runCycle executes pull then push on a worker goroutine. A pull failure
// aborts the cycle's push phase: pushing against possibly-stale pull state
// helps nobody.
func (c *Coordinator) runCycle(ctx context.Context, owner string, since time.Time, pending []uuid.UUID) cycleResult {
	res := cycleResult{}
	res.pull = c.runPull(ctx, owner, since, pending)
	if res.pull.err != nil {
		if isCancellation(res.pull.err) {
			res.cancelled = true
		}
		return res
	}
	res.push = c.runPush(ctx, owner, pending)
	res.ranPush = true
	return res
}

// runPull fetches rows newer than the last successful pull, resolves
// per-board conflicts, and reconciles remote deletions.
func (c *Coordinator) runPull(ctx context.Context, owner string, since time.Time, pending []uuid.UUID) pullResult {
	res := pullResult{newSince: since}

	rows, err := c.remote.SelectSince(ctx, owner, since)
	if err != nil {
		res.err = fmt.Errorf("select since failed: %w", err)
		return res
	}

	pendingSet := make(map[uuid.UUID]bool, len(pending))
	for _, id := range pending {
		pendingSet[id] = true
	}

	for _, row := range rows {
		if pendingSet[row.ID] {
			continue // queued for deletion here; do not resurrect it
		}
		conflict, err := c.acceptRow(ctx, owner, row)
		if err != nil {
			if isCancellation(err) {
				res.err = err
				return res
			}
			// Row-level decode failures are skipped, not fatal to the pull.
			slog.Warn("skipping remote row", "board", row.ID, "error", err)
			continue
		}
		if conflict {
			res.conflicts++
		}
		res.rows++
		if row.UpdatedAt.After(res.newSince) {
			res.newSince = row.UpdatedAt
		}
	}

	if err := c.reconcileRemoteDeletions(ctx, owner, pending); err != nil {
		res.err = err
		return res
	}
	return res
}

// acceptRow folds one remote row into the local store. Returns whether the
// row conflicted with dirty local state.
func (c *Coordinator) acceptRow(ctx context.Context, owner string, row *remote.Row) (bool, error) {
	meta, err := c.local.BoardMeta(row.ID)
	if err != nil {
		return false, err
	}

	// Fast path: nothing local, or remote is not ahead.
	if meta == nil {
		doc, err := board.Decode(row.Payload)
		if err != nil {
			return false, err
		}
		if _, err := c.local.Save(doc, false, false); err != nil {
			return false, err
		}
		if err := c.local.SetVersion(row.ID, row.Version); err != nil {
			return false, err
		}
		c.assets.PullAssets(ctx, owner, doc)
		return false, nil
	}
	if meta.Version >= row.Version {
		return false, nil
	}

	if !meta.IsDirty {
		doc, err := board.Decode(row.Payload)
		if err != nil {
			return false, err
		}
		// Camera/window state stays with this device.
		if lb, err := c.local.LoadIfExists(row.ID); err == nil && lb != nil {
			doc.Viewport = lb.Viewport
			doc.UI = lb.UI
		}
		if _, err := c.local.Save(doc, false, false); err != nil {
			return false, err
		}
		if err := c.local.SetVersion(row.ID, row.Version); err != nil {
			return false, err
		}
		c.assets.PullAssets(ctx, owner, doc)
		return false, nil
	}

	// Remote is ahead and local is dirty: merge, never blind-overwrite.
	lb, err := c.local.Load(row.ID)
	if err != nil {
		return false, err
	}
	rdoc, derr := board.Decode(row.Payload)
	if derr != nil {
		return true, c.preserveConflictedCopy(row.ID, row.Version, lb, derr)
	}

	merged := merge.Merge(lb, rdoc)
	// Saved dirty at the adopted base: the push phase ships it as version+1.
	if err := c.local.SaveMerged(merged, row.Version); err != nil {
		return true, err
	}
	c.assets.PullAssets(ctx, owner, merged)
	return true, nil
}

// preserveConflictedCopy is the no-data-loss fallback for an undecodable
// remote payload over dirty local state: local edits move to a brand-new
// board, and the original id stops contesting the remote version.
func (c *Coordinator) preserveConflictedCopy(id uuid.UUID, remoteVersion int64, lb *board.Board, cause error) error {
	cp := merge.ConflictedCopy(lb)
	if _, err := c.local.Save(cp, true, false); err != nil {
		return err
	}
	if err := c.local.SetVersion(id, remoteVersion); err != nil {
		return err
	}
	slog.Warn("remote payload undecodable, local edits preserved as conflicted copy",
		"board", id, "copy", cp.ID, "error", cause)
	return nil
}

// reconcileRemoteDeletions removes local non-dirty boards that another
// device deleted remotely. Boards queued for deletion here, dirty boards,
// and boards never pushed are left alone.
func (c *Coordinator) reconcileRemoteDeletions(ctx context.Context, owner string, pending []uuid.UUID) error {
	ids, err := c.remote.ListIDs(ctx, owner)
	if err != nil {
		return fmt.Errorf("list ids failed: %w", err)
	}
	remoteSet := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		remoteSet[id] = true
	}
	pendingSet := make(map[uuid.UUID]bool, len(pending))
	for _, id := range pending {
		pendingSet[id] = true
	}

	metas, err := c.local.ListBoards()
	if err != nil {
		return err
	}
	for _, m := range metas {
		if remoteSet[m.ID] || m.IsDirty || pendingSet[m.ID] || m.Version == 0 {
			continue
		}
		if err := c.local.Delete(m.ID); err != nil {
			slog.Warn("failed to delete board removed remotely", "board", m.ID, "error", err)
			continue
		}
		slog.Info("board deleted remotely, removed locally", "board", m.ID)
	}
	return nil
}

// runPush reconciles queued deletions, then pushes every dirty board.
// Failures are isolated per board; the last error is reported as the
// aggregate outcome.
func (c *Coordinator) runPush(ctx context.Context, owner string, pending []uuid.UUID) pushResult {
	res := pushResult{}

	for _, id := range pending {
		if err := c.remote.Delete(ctx, owner, id); err != nil {
			// Stays queued; retried next cycle.
			if !isCancellation(err) {
				slog.Warn("remote delete failed", "board", id, "error", err)
			}
			res.lastErr = err
			continue
		}
		res.deleted = append(res.deleted, id)
		slog.Info("board deleted remotely", "board", id)
	}

	pendingSet := make(map[uuid.UUID]bool, len(pending))
	for _, id := range pending {
		pendingSet[id] = true
	}

	dirty, err := c.local.ListDirtyBoards()
	if err != nil {
		res.lastErr = err
		return res
	}

	for _, meta := range dirty {
		if pendingSet[meta.ID] {
			continue // queued for deletion, not for push
		}
		conflict, err := c.pushBoard(ctx, owner, meta.ID)
		if conflict {
			res.conflicts++
		}
		if err != nil {
			if isCancellation(err) {
				res.lastErr = err
				return res
			}
			slog.Error("board push failed", "board", meta.ID, "error", err)
			res.lastErr = err
			continue
		}
		res.pushed++
	}
	return res
}

// pushBoard ships one dirty board: resolve any conflict against the latest
// remote row, sync assets, then upsert with the next version number. A
// conditional-write loss triggers one re-pull-and-merge retry; a second loss
// leaves the board dirty for the next cycle.
func (c *Coordinator) pushBoard(ctx context.Context, owner string, id uuid.UUID) (bool, error) {
	b, err := c.local.Load(id)
	if err != nil {
		return false, err
	}
	meta, err := c.local.BoardMeta(id)
	if err != nil {
		return false, err
	}
	if meta == nil {
		return false, fmt.Errorf("dirty board %s has no metadata", id)
	}

	conflict := false
	base := meta.Version

	row, err := c.remote.SelectOne(ctx, owner, id)
	if err != nil {
		return false, fmt.Errorf("select one failed: %w", err)
	}
	if row != nil && row.Version > base {
		conflict = true
		b, base, err = c.resolveAgainst(id, b, row)
		if err != nil {
			return true, err
		}
		if b == nil {
			return true, nil // conflicted-copy fallback already handled it
		}
	}

	pushed, err := c.upsertBoard(ctx, owner, b, base)
	if errors.Is(err, remote.ErrVersionConflict) {
		// Lost the conditional write. Re-pull, merge, try once more.
		conflict = true
		fresh, ferr := c.remote.SelectOne(ctx, owner, id)
		if ferr != nil {
			return true, fmt.Errorf("select one failed: %w", ferr)
		}
		if fresh == nil {
			// Row vanished between writes; push as a new row.
			pushed, err = c.upsertBoard(ctx, owner, b, 0)
		} else {
			b, base, err = c.resolveAgainst(id, b, fresh)
			if err != nil || b == nil {
				return true, err
			}
			pushed, err = c.upsertBoard(ctx, owner, b, base)
		}
	}
	if err != nil {
		return conflict, err
	}

	if err := c.local.SetVersion(id, pushed); err != nil {
		return conflict, err
	}
	slog.Info("board pushed", "board", id, "version", pushed)
	return conflict, nil
}

// resolveAgainst merges the local board with a newer remote row, records the
// adopted base version, and keeps the merged result dirty. Returns a nil
// board when the remote payload is undecodable and the conflicted-copy
// fallback absorbed the local edits.
func (c *Coordinator) resolveAgainst(id uuid.UUID, local *board.Board, row *remote.Row) (*board.Board, int64, error) {
	rdoc, derr := board.Decode(row.Payload)
	if derr != nil {
		return nil, 0, c.preserveConflictedCopy(id, row.Version, local, derr)
	}
	merged := merge.Merge(local, rdoc)
	if err := c.local.SaveMerged(merged, row.Version); err != nil {
		return nil, 0, err
	}
	return merged, row.Version, nil
}

// upsertBoard syncs assets then writes the row with version base+1,
// returning the new version on success. Assets go first so the row never
// references a blob the remote doesn't have yet.
func (c *Coordinator) upsertBoard(ctx context.Context, owner string, b *board.Board, base int64) (int64, error) {
	payload, err := board.Encode(b)
	if err != nil {
		return 0, err
	}
	if _, err := c.assets.PushAssets(ctx, owner, b); err != nil {
		return 0, err
	}
	next := base + 1
	err = c.remote.Upsert(ctx, &remote.Row{
		ID:        b.ID,
		OwnerID:   owner,
		Title:     b.Title,
		Payload:   payload,
		Version:   next,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
