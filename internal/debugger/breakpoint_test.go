package debugger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

func TestRegistryAddOrModify(t *testing.T) {
	r := NewRegistry()

	bp, created, err := r.AddOrModify(1, Position{File: "a.lua", Line: 3}, DefaultOptions())
	if err != nil || !created {
		t.Fatalf("AddOrModify = %v, %v", created, err)
	}
	if bp.ID != 1 || !bp.Enabled || !bp.Suspend {
		t.Errorf("unexpected breakpoint %+v", bp)
	}

	opts := DefaultOptions()
	opts.Condition = "n == 2"
	bp, created, err = r.AddOrModify(1, Position{File: "a.lua", Line: 5}, opts)
	if err != nil || created {
		t.Fatalf("modify = %v, %v", created, err)
	}
	if bp.Position.Line != 5 || bp.Condition != "n == 2" {
		t.Errorf("unexpected breakpoint %+v", bp)
	}
	if _, ok := r.At(Position{File: "a.lua", Line: 3}); ok {
		t.Error("old position still resolves")
	}
	if got, ok := r.At(Position{File: "a.lua", Line: 5}); !ok || got.ID != 1 {
		t.Errorf("At new position = %+v, %v", got, ok)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 breakpoint, got %d", r.Len())
	}
}

// Breakpoints are edited from request goroutines while the interpreter
// looks them up at step points.
func TestRegistryConcurrentEditAndLookup(t *testing.T) {
	r := NewRegistry()
	pos := Position{File: "a.lua", Line: 4}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, _, err := r.AddOrModify(1, pos, DefaultOptions()); err != nil {
				t.Errorf("AddOrModify: %v", err)
				return
			}
			r.Remove(1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if bp, ok := r.At(pos); ok {
				r.recordHit(bp.ID)
			}
			_ = r.All()
		}
	}()
	wg.Wait()

	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		id  int
		pos Position
	}{
		{0, Position{File: "a.lua", Line: 1}},
		{1, Position{File: "", Line: 1}},
		{1, Position{File: "a.lua", Line: 0}},
	}
	for _, tt := range tests {
		if _, _, err := r.AddOrModify(tt.id, tt.pos, DefaultOptions()); !errors.Is(err, ErrInvalidBreakpoint) {
			t.Errorf("AddOrModify(%d, %s): expected ErrInvalidBreakpoint, got %v", tt.id, tt.pos, err)
		}
	}
}

func TestRegistryFirstRegisteredWins(t *testing.T) {
	r := NewRegistry()
	pos := Position{File: "a.lua", Line: 7}

	r.AddOrModify(5, pos, DefaultOptions())
	r.AddOrModify(2, pos, DefaultOptions())
	r.AddOrModify(9, Position{File: "a.lua", Line: 8}, DefaultOptions())

	if bp, _ := r.At(pos); bp.ID != 5 {
		t.Errorf("expected breakpoint 5, got %d", bp.ID)
	}

	// Moving 9 onto the line keeps registration order.
	r.AddOrModify(9, pos, DefaultOptions())
	if bp, _ := r.At(pos); bp.ID != 5 {
		t.Errorf("expected breakpoint 5 after move, got %d", bp.ID)
	}

	r.Remove(5)
	if bp, _ := r.At(pos); bp.ID != 2 {
		t.Errorf("expected breakpoint 2 after remove, got %d", bp.ID)
	}
}

func TestRegistrySetMaster(t *testing.T) {
	r := NewRegistry()
	for id := 1; id <= 3; id++ {
		r.AddOrModify(id, Position{File: "a.lua", Line: id}, DefaultOptions())
	}

	if err := r.SetMaster(2, 1, true); err != nil {
		t.Fatalf("SetMaster failed: %v", err)
	}
	if err := r.SetMaster(3, 2, false); err != nil {
		t.Fatalf("SetMaster failed: %v", err)
	}

	if err := r.SetMaster(1, 3, false); !errors.Is(err, ErrMasterCycle) {
		t.Errorf("expected cycle error, got %v", err)
	}
	if err := r.SetMaster(1, 1, false); !errors.Is(err, ErrMasterCycle) {
		t.Errorf("expected self cycle error, got %v", err)
	}
	if err := r.SetMaster(4, 1, false); !errors.Is(err, ErrBreakpointNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := r.SetMaster(1, 4, false); !errors.Is(err, ErrBreakpointNotFound) {
		t.Errorf("expected master not found, got %v", err)
	}

	master, _ := r.Get(1)
	if len(master.SlaveIDs) != 1 || master.SlaveIDs[0] != 2 {
		t.Errorf("unexpected slaves %v", master.SlaveIDs)
	}

	// Same master again is a no-op and keeps leaveEnabled.
	if err := r.SetMaster(2, 1, false); err != nil {
		t.Fatalf("SetMaster failed: %v", err)
	}
	if bp, _ := r.Get(2); !bp.LeaveEnabled {
		t.Error("no-op SetMaster changed leaveEnabled")
	}

	if err := r.SetMaster(2, 0, false); err != nil {
		t.Fatalf("unlink failed: %v", err)
	}
	if bp, _ := r.Get(2); bp.MasterID != 0 {
		t.Errorf("expected no master, got %d", bp.MasterID)
	}
	if master, _ := r.Get(1); len(master.SlaveIDs) != 0 {
		t.Errorf("expected master without slaves, got %v", master.SlaveIDs)
	}
}

func TestRegistryRecordHit(t *testing.T) {
	r := NewRegistry()
	r.AddOrModify(1, Position{File: "a.lua", Line: 1}, DefaultOptions())
	r.AddOrModify(2, Position{File: "a.lua", Line: 2}, DefaultOptions())
	r.AddOrModify(3, Position{File: "a.lua", Line: 3}, DefaultOptions())
	r.SetMaster(2, 1, true)
	r.SetMaster(3, 1, false)

	r.recordHit(1)
	for _, id := range []int{2, 3} {
		if bp, _ := r.Get(id); !bp.MasterWasHit || !bp.eligible() {
			t.Errorf("slave %d not armed after master hit", id)
		}
	}

	r.recordHit(2)
	r.recordHit(3)
	if bp, _ := r.Get(2); !bp.MasterWasHit {
		t.Error("leave-enabled slave was reset")
	}
	if bp, _ := r.Get(3); bp.MasterWasHit {
		t.Error("slave without leave-enabled was not reset")
	}
	if bp, _ := r.Get(1); bp.HitCount != 1 {
		t.Errorf("expected master hit count 1, got %d", bp.HitCount)
	}
}

func TestRegistryRemoveMasterUnlinksSlaves(t *testing.T) {
	r := NewRegistry()
	r.AddOrModify(1, Position{File: "a.lua", Line: 1}, DefaultOptions())
	r.AddOrModify(2, Position{File: "a.lua", Line: 2}, DefaultOptions())
	r.SetMaster(2, 1, false)

	if !r.Remove(1) {
		t.Fatal("Remove failed")
	}
	if r.Remove(1) {
		t.Error("second Remove succeeded")
	}
	bp, _ := r.Get(2)
	if bp.MasterID != 0 || !bp.eligible() {
		t.Errorf("slave still linked: %+v", bp)
	}
}

func TestRegistryPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "breakpoints.json")

	r := NewRegistry()
	if err := r.Save(); !errors.Is(err, ErrPersistPathNotSet) {
		t.Errorf("expected ErrPersistPathNotSet, got %v", err)
	}
	r.SetPersistPath(path)

	if err := r.Load(); err != nil {
		t.Fatalf("Load of missing file failed: %v", err)
	}

	opts := DefaultOptions()
	opts.Condition = "x > 1"
	opts.PrintStack = true
	r.AddOrModify(1, Position{File: "a.lua", Line: 1}, DefaultOptions())
	r.AddOrModify(2, Position{File: "b.lua", Line: 4}, opts)
	r.SetMaster(2, 1, true)
	if err := r.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded := NewRegistry()
	loaded.SetPersistPath(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	all := loaded.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 breakpoints, got %d", len(all))
	}
	bp := all[1]
	if bp.ID != 2 || bp.Position != (Position{File: "b.lua", Line: 4}) {
		t.Errorf("unexpected breakpoint %+v", bp)
	}
	if bp.Condition != "x > 1" || !bp.PrintStack {
		t.Errorf("options not restored: %+v", bp.Options)
	}
	if bp.MasterID != 1 || !bp.LeaveEnabled {
		t.Errorf("master link not restored: %+v", bp)
	}
}
