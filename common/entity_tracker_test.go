package common

import (
	"testing"

	"github.com/sharedcode/rop"
)

func Test_Tracker_PersistNewSchedulesInsert(t *testing.T) {
	em, _ := newTestManager(t)
	task := &testTask{Title: "write tests"}
	if err := em.Persist(task); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if !em.Contains(task) {
		t.Fatalf("Contains = false after Persist")
	}
	state, err := em.EntityState(task)
	if err != nil {
		t.Fatalf("EntityState error: %v", err)
	}
	if state != rop.StateManaged {
		t.Fatalf("state = %v, want Managed", state)
	}
	pending := em.active.tracker.scheduled(insertAction)
	if len(pending) != 1 || pending[0].entity != rop.Entity(task) {
		t.Fatalf("want exactly one scheduled insert for the task, got %d", len(pending))
	}
}

func Test_Tracker_PersistIsIdempotent(t *testing.T) {
	em, _ := newTestManager(t)
	task := &testTask{Title: "once"}
	if err := em.Persist(task); err != nil {
		t.Fatalf("first Persist failed: %v", err)
	}
	rec, _ := em.active.tracker.record(task)
	seq := rec.seq
	if err := em.Persist(task); err != nil {
		t.Fatalf("second Persist failed: %v", err)
	}
	if got := em.active.tracker.scheduled(insertAction); len(got) != 1 {
		t.Fatalf("double persist scheduled %d inserts, want 1", len(got))
	}
	rec2, _ := em.active.tracker.record(task)
	if rec2.seq != seq {
		t.Fatalf("re-persist changed the scheduling sequence: %d -> %d", seq, rec2.seq)
	}
}

func Test_Tracker_RemoveUntrackedFails(t *testing.T) {
	em, _ := newTestManager(t)

	// New, never persisted.
	if err := em.Remove(&testTask{Title: "unknown"}); !rop.IsCode(err, rop.EntityNotManaged) {
		t.Fatalf("remove of a new entity: code = %v, want EntityNotManaged", rop.CodeOf(err))
	}

	// Detached: carries an identifier but is not tracked here.
	detached := &testTask{ID: rop.NewUUID(), Title: "elsewhere"}
	if err := em.Remove(detached); !rop.IsCode(err, rop.EntityNotManaged) {
		t.Fatalf("remove of a detached entity: code = %v, want EntityNotManaged", rop.CodeOf(err))
	}
}

func Test_Tracker_RemovePendingInsertCancels(t *testing.T) {
	em, conn := newTestManager(t)
	task := &testTask{Title: "never lands"}
	if err := em.Persist(task); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if err := em.Remove(task); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if em.Contains(task) {
		t.Fatalf("canceled insert should leave the entity untracked")
	}
	state, _ := em.EntityState(task)
	if state != rop.StateNew {
		t.Fatalf("state = %v, want New after the insert is canceled", state)
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(conn.Journal) != 0 {
		t.Fatalf("flush wrote %d statements for canceled work, want 0", len(conn.Journal))
	}
}

func Test_Tracker_RemoveManagedSchedulesDelete(t *testing.T) {
	em, _ := newTestManager(t)
	task := &testTask{Title: "done"}
	loadedTask(t, em, task)
	if err := em.Remove(task); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	state, _ := em.EntityState(task)
	if state != rop.StateRemoved {
		t.Fatalf("state = %v, want Removed", state)
	}
	if got := em.active.tracker.scheduled(deleteAction); len(got) != 1 {
		t.Fatalf("scheduled %d deletes, want 1", len(got))
	}
	// Removed entities are not part of the managed view.
	for _, e := range em.ManagedEntities() {
		if e == rop.Entity(task) {
			t.Fatalf("removed entity still listed as managed")
		}
	}
}

func Test_Tracker_PersistRevokesRemoval(t *testing.T) {
	em, conn := newTestManager(t)
	task := &testTask{Title: "keep me"}
	loadedTask(t, em, task)
	if err := em.Remove(task); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := em.Persist(task); err != nil {
		t.Fatalf("Persist after Remove failed: %v", err)
	}
	state, _ := em.EntityState(task)
	if state != rop.StateManaged {
		t.Fatalf("state = %v, want Managed after revoking the removal", state)
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	// The entity matches its snapshot, so nothing is written at all.
	if len(conn.Journal) != 0 {
		t.Fatalf("flush wrote %d statements, want 0: %v", len(conn.Journal), conn.SQLJournal())
	}
}

func Test_Tracker_DetachDropsTracking(t *testing.T) {
	em, _ := newTestManager(t)
	task := &testTask{Title: "let go"}
	loadedTask(t, em, task)

	em.Detach(task)
	if em.Contains(task) {
		t.Fatalf("Contains = true after Detach")
	}
	state, _ := em.EntityState(task)
	if state != rop.StateDetached {
		t.Fatalf("state = %v, want Detached", state)
	}
	if _, ok := em.active.identity.lookup("task", task.ID); ok {
		t.Fatalf("identity map should forget detached entities")
	}
	// Detaching again is harmless.
	em.Detach(task)
}

func Test_Tracker_PersistDetachedFails(t *testing.T) {
	em, _ := newTestManager(t)
	detached := &testTask{ID: rop.NewUUID(), Title: "from another session"}
	err := em.Persist(detached)
	if !rop.IsCode(err, rop.EntityNotManaged) {
		t.Fatalf("persist of a detached entity: code = %v, want EntityNotManaged", rop.CodeOf(err))
	}
}

func Test_Tracker_SchedulingOrderIsStable(t *testing.T) {
	em, _ := newTestManager(t)
	first := &testTask{Title: "first"}
	second := &testTask{Title: "second"}
	third := &testTask{Title: "third"}
	for _, task := range []*testTask{first, second, third} {
		if err := em.Persist(task); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
	}
	got := em.active.tracker.scheduled(insertAction)
	if len(got) != 3 {
		t.Fatalf("scheduled %d inserts, want 3", len(got))
	}
	want := []rop.Entity{first, second, third}
	for i, rec := range got {
		if rec.entity != want[i] {
			t.Fatalf("position %d holds %v, want scheduling order preserved", i, rec.entity)
		}
	}
}

func Test_Tracker_CloneCopiesSnapshots(t *testing.T) {
	em, _ := newTestManager(t)
	task := &testTask{Title: "original"}
	rec := loadedTask(t, em, task)

	child := em.active.tracker.clone()
	childRec, ok := child.record(task)
	if !ok {
		t.Fatalf("clone lost the tracked record")
	}
	if childRec == rec {
		t.Fatalf("clone should copy records, not share them")
	}
	childRec.snapshot["title"] = "rewritten"
	if rec.snapshot["title"] != "original" {
		t.Fatalf("child snapshot mutation leaked into the parent")
	}

	// Adopt folds the child view back in.
	em.active.tracker.adopt(child)
	adopted, _ := em.active.tracker.record(task)
	if adopted.snapshot["title"] != "rewritten" {
		t.Fatalf("adopt should take over the child's records")
	}
}
