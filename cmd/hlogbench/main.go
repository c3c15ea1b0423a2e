// Command hlogbench runs the store's testable-property scenarios end to
// end against an in-memory device, printing pass/fail per scenario.
//
// Grounded on the teacher's tools/benchmark CLI (a single binary that
// stands up a store, runs a fixed sequence of phases, and reports timing),
// rewired from stdlib flag onto github.com/urfave/cli/v2 the way
// ethereum-mive-mive's cmd/mive wires its flags, since the teacher's own
// CLI surface is out of scope for this module.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sharedcode/hlogcache"
	"github.com/sharedcode/hlogcache/engine"
	"github.com/sharedcode/hlogcache/hlog"
	"github.com/sharedcode/hlogcache/locktable"
	"github.com/urfave/cli/v2"
)

// Scenario parameters fixed by the testable-properties section: a
// deliberately small hash (key mod 10) so 14 of the 140 populated keys
// collide into one bucket chain, and three representative chain positions.
const (
	keyCount     = 140
	lowChainKey  = 40
	midChainKey  = 90
	highChainKey = 130
)

func hashMod10(key int) uint64 {
	return uint64(key % 10)
}

func newEngine() *engine.Engine[int, string] {
	return engine.New[int, string](hlog.NewMemoryDevice(), nil, hashMod10, 16, 0)
}

func populate(ctx context.Context, e *engine.Engine[int, string]) error {
	for i := 0; i < keyCount; i++ {
		if _, err := e.Upsert(ctx, i, fmt.Sprintf("v%d", i)); err != nil {
			return fmt.Errorf("populate key %d: %w", i, err)
		}
	}
	return nil
}

// flushAndEvictLog seals the mutable region and evicts everything below the
// current tail from memory, forcing every record to resolve from Device
// until a Read re-caches it.
func flushAndEvictLog(ctx context.Context, e *engine.Engine[int, string]) error {
	tail := e.Log().TailOffset()
	if !e.Log().AdvanceReadOnly(tail) {
		return fmt.Errorf("flushAndEvictLog: AdvanceReadOnly(%d) rejected", tail)
	}
	return e.Log().AdvanceHeadWithLockTransfer(ctx, tail, e.LockTable())
}

// flushAndEvictReadCache evicts every currently resident read-cache record.
func flushAndEvictReadCache(ctx context.Context, e *engine.Engine[int, string]) error {
	rc := e.ReadCache()
	return rc.Evict(ctx, rc.TailAddress(), e.LockTable())
}

func expectFound(e *engine.Engine[int, string], ctx context.Context, key int, want string) error {
	value, status, err := e.Read(ctx, key, engine.ReadFlags{})
	if err != nil {
		return err
	}
	if status != hlogcache.StatusFound {
		return fmt.Errorf("key %d: want Found, got %s", key, status)
	}
	if value != want {
		return fmt.Errorf("key %d: want %q, got %q", key, want, value)
	}
	return nil
}

func expectLockMode(lt *locktable.Table[int], key int, wantExclusive bool, wantSharedCount int) error {
	snap, ok := lt.IsLocked(key)
	if !ok {
		return fmt.Errorf("key %d: want a lock-table entry, found none", key)
	}
	if snap.Exclusive != wantExclusive || snap.SharedCount != wantSharedCount {
		return fmt.Errorf("key %d: want {exclusive=%v shared=%d}, got %+v", key, wantExclusive, wantSharedCount, snap)
	}
	return nil
}

func expectNotFound(e *engine.Engine[int, string], ctx context.Context, key int) error {
	_, status, err := e.Read(ctx, key, engine.ReadFlags{})
	if err != nil {
		return err
	}
	if status != hlogcache.StatusNotFound {
		return fmt.Errorf("key %d: want NotFound, got %s", key, status)
	}
	return nil
}

// scenario1 populates keys 0..139, flushes everything to disk, then reads
// the mod-10-bucket chain positions back, each splicing a read-cache copy.
func scenario1(ctx context.Context) error {
	e := newEngine()
	if err := populate(ctx, e); err != nil {
		return err
	}
	if err := flushAndEvictLog(ctx, e); err != nil {
		return err
	}
	for k := lowChainKey; k <= highChainKey; k += 10 {
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	if got := e.ReadCache().Len(); got != 10 {
		return fmt.Errorf("scenario1: want 10 resident read-cache records, got %d", got)
	}
	return nil
}

// scenario2 deletes three of scenario 1's re-cached keys and checks the
// rest of the chain is unaffected.
func scenario2(ctx context.Context) error {
	e := newEngine()
	if err := populate(ctx, e); err != nil {
		return err
	}
	if err := flushAndEvictLog(ctx, e); err != nil {
		return err
	}
	for k := lowChainKey; k <= highChainKey; k += 10 {
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	for _, k := range []int{lowChainKey, midChainKey, highChainKey} {
		if status, err := e.Delete(ctx, k); err != nil || status != hlogcache.StatusDeleted {
			return fmt.Errorf("delete key %d: status=%s err=%v", k, status, err)
		}
	}
	for _, k := range []int{lowChainKey, midChainKey, highChainKey} {
		if err := expectNotFound(e, ctx, k); err != nil {
			return err
		}
	}
	for k := lowChainKey + 10; k < highChainKey; k += 10 {
		if k == midChainKey {
			continue
		}
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	return nil
}

// scenario3 builds scenario 1's full ten-key read-cache collision chain, then
// upserts a key found mid-chain (not at the bucket entry) and checks the
// update is visible and authoritative, and that the rest of the chain still
// resolves correctly around it.
func scenario3(ctx context.Context) error {
	e := newEngine()
	if err := populate(ctx, e); err != nil {
		return err
	}
	if err := flushAndEvictLog(ctx, e); err != nil {
		return err
	}
	for k := lowChainKey; k <= highChainKey; k += 10 {
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	if status, err := e.Upsert(ctx, midChainKey, "new-value"); err != nil || status != hlogcache.StatusUpserted {
		return fmt.Errorf("upsert key %d: status=%s err=%v", midChainKey, status, err)
	}
	if err := expectFound(e, ctx, midChainKey, "new-value"); err != nil {
		return err
	}
	for k := lowChainKey; k <= highChainKey; k += 10 {
		if k == midChainKey {
			continue
		}
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	return nil
}

// scenario4 locks three keys in mixed modes, flushes the read cache, and
// checks the lock table holds exactly those three entries until unlocked.
func scenario4(ctx context.Context) error {
	e := newEngine()
	if err := populate(ctx, e); err != nil {
		return err
	}
	if err := flushAndEvictLog(ctx, e); err != nil {
		return err
	}
	locks := []struct {
		key  int
		mode engine.LockMode
	}{
		{lowChainKey, engine.LockExclusive},
		{midChainKey, engine.LockShared},
		{highChainKey, engine.LockExclusive},
	}
	for _, k := range []int{lowChainKey, midChainKey, highChainKey} {
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	for _, l := range locks {
		if err := e.Lock(ctx, l.key, l.mode); err != nil {
			return fmt.Errorf("lock key %d: %w", l.key, err)
		}
	}
	if err := flushAndEvictReadCache(ctx, e); err != nil {
		return err
	}
	lt := e.LockTable()
	if got := lt.Count(); got != 3 {
		return fmt.Errorf("scenario4: want 3 lock-table entries after RC flush, got %d", got)
	}
	if err := expectLockMode(lt, lowChainKey, true, 0); err != nil {
		return err
	}
	if err := expectLockMode(lt, midChainKey, false, 1); err != nil {
		return err
	}
	if err := expectLockMode(lt, highChainKey, true, 0); err != nil {
		return err
	}
	for _, l := range locks {
		if err := e.Unlock(ctx, l.key, l.mode); err != nil {
			return fmt.Errorf("unlock key %d: %w", l.key, err)
		}
	}
	if got := e.LockTable().Count(); got != 0 {
		return fmt.Errorf("scenario4: want empty lock table after unlocking, got %d", got)
	}
	return nil
}

// scenario5 locks cold keys before any read ever populates the read cache
// for them, then reads each back and checks the lock followed the record
// from the overflow table onto its freshly spliced read-cache copy.
func scenario5(ctx context.Context) error {
	e := newEngine()
	if err := populate(ctx, e); err != nil {
		return err
	}
	if err := flushAndEvictLog(ctx, e); err != nil {
		return err
	}
	keys := []int{lowChainKey, midChainKey, highChainKey}
	for _, k := range keys {
		if err := e.Lock(ctx, k, engine.LockExclusive); err != nil {
			return fmt.Errorf("lock cold key %d: %w", k, err)
		}
	}
	if got := e.LockTable().Count(); got != 3 {
		return fmt.Errorf("scenario5: want 3 lock-table entries before any read, got %d", got)
	}
	if err := flushAndEvictReadCache(ctx, e); err != nil {
		return err
	}
	for _, k := range keys {
		if err := expectFound(e, ctx, k, fmt.Sprintf("v%d", k)); err != nil {
			return err
		}
	}
	if got := e.LockTable().Count(); got != 0 {
		return fmt.Errorf("scenario5: want empty lock table once locks transfer to read-cache records, got %d", got)
	}
	for _, k := range keys {
		if err := e.Unlock(ctx, k, engine.LockExclusive); err != nil {
			return fmt.Errorf("unlock re-cached key %d: %w", k, err)
		}
	}
	return nil
}

// scenario6 runs RMW against a cold key that already has a read-cache copy
// and checks the RMW copy-updates rather than mutating in place, since an
// RC record is never the mutable region.
func scenario6(ctx context.Context) error {
	e := newEngine()
	if err := populate(ctx, e); err != nil {
		return err
	}
	if err := flushAndEvictLog(ctx, e); err != nil {
		return err
	}
	key := midChainKey
	if err := expectFound(e, ctx, key, fmt.Sprintf("v%d", key)); err != nil {
		return err
	}
	status, err := e.RMW(ctx, key, nil,
		func(old string) string { return old + "+rmw" },
		func(cur *string) bool { return false },
	)
	if err != nil {
		return err
	}
	if status != hlogcache.StatusCopyUpdated {
		return fmt.Errorf("scenario6: want CopyUpdated, got %s", status)
	}
	return expectFound(e, ctx, key, fmt.Sprintf("v%d+rmw", key))
}

var scenarios = []struct {
	name string
	run  func(context.Context) error
}{
	{"1", scenario1},
	{"2", scenario2},
	{"3", scenario3},
	{"4", scenario4},
	{"5", scenario5},
	{"6", scenario6},
}

func main() {
	app := &cli.App{
		Name:  "hlogbench",
		Usage: "exercise the read-cache and lock-transfer scenarios against an in-memory device",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "scenario",
				Usage: "scenario number to run, or \"all\"",
				Value: "all",
			},
		},
		Action: func(c *cli.Context) error {
			want := c.String("scenario")
			ctx := context.Background()
			ran := false
			failed := false
			for _, s := range scenarios {
				if want != "all" && want != s.name {
					continue
				}
				ran = true
				if err := s.run(ctx); err != nil {
					fmt.Printf("scenario %s: FAIL: %v\n", s.name, err)
					failed = true
					continue
				}
				fmt.Printf("scenario %s: ok\n", s.name)
			}
			if !ran {
				return fmt.Errorf("unknown scenario %q", want)
			}
			if failed {
				return fmt.Errorf("one or more scenarios failed")
			}
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
