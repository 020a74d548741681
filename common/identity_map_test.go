package common

import (
	"errors"
	"testing"

	"github.com/sharedcode/rop"
)

func Test_IdentityMap_RegisterAndLookup(t *testing.T) {
	im := newIdentityMap()
	task := &testTask{ID: rop.NewUUID(), Title: "one"}
	if err := im.register("task", task.ID, task, false); err != nil {
		t.Fatalf("register error: %v", err)
	}
	got, ok := im.lookup("task", task.ID)
	if !ok {
		t.Fatalf("lookup found nothing")
	}
	if got != rop.Entity(task) {
		t.Fatalf("lookup returned a different object")
	}
	if !im.contains(task) {
		t.Fatalf("contains = false, want true")
	}
	if im.size() != 1 {
		t.Fatalf("size = %d, want 1", im.size())
	}
}

func Test_IdentityMap_RegisterIdempotent(t *testing.T) {
	im := newIdentityMap()
	task := &testTask{ID: rop.NewUUID()}
	if err := im.register("task", task.ID, task, false); err != nil {
		t.Fatalf("first register error: %v", err)
	}
	if err := im.register("task", task.ID, task, false); err != nil {
		t.Fatalf("second register of the same object error: %v", err)
	}
	if im.size() != 1 {
		t.Fatalf("size = %d, want 1", im.size())
	}
}

func Test_IdentityMap_DuplicateIdentity(t *testing.T) {
	im := newIdentityMap()
	id := rop.NewUUID()
	first := &testTask{ID: id}
	second := &testTask{ID: id}
	if err := im.register("task", id, first, false); err != nil {
		t.Fatalf("register error: %v", err)
	}
	err := im.register("task", id, second, false)
	if err == nil {
		t.Fatalf("expected DuplicateIdentity error")
	}
	if !rop.IsCode(err, rop.DuplicateIdentity) {
		t.Fatalf("error code = %v, want DuplicateIdentity", rop.CodeOf(err))
	}
	var ropErr rop.Error
	if !errors.As(err, &ropErr) {
		t.Fatalf("error is not a rop.Error: %v", err)
	}
	if ropErr.UserData != rop.Entity(first) {
		t.Fatalf("UserData should carry the existing object")
	}
}

func Test_IdentityMap_Replace(t *testing.T) {
	im := newIdentityMap()
	id := rop.NewUUID()
	first := &testTask{ID: id}
	second := &testTask{ID: id}
	if err := im.register("task", id, first, false); err != nil {
		t.Fatalf("register error: %v", err)
	}
	if err := im.register("task", id, second, true); err != nil {
		t.Fatalf("replace register error: %v", err)
	}
	got, _ := im.lookup("task", id)
	if got != rop.Entity(second) {
		t.Fatalf("lookup should return the replacement object")
	}
	if im.contains(first) {
		t.Fatalf("replaced object should be forgotten")
	}
}

func Test_IdentityMap_SameIDDifferentTypes(t *testing.T) {
	im := newIdentityMap()
	c := &testCategory{ID: 7}
	task := &testTask{}
	if err := im.register("category", int64(7), c, false); err != nil {
		t.Fatalf("register category: %v", err)
	}
	if err := im.register("task", int64(7), task, false); err != nil {
		t.Fatalf("same id under another type should not collide: %v", err)
	}
	if im.size() != 2 {
		t.Fatalf("size = %d, want 2", im.size())
	}
}

func Test_IdentityMap_Forget(t *testing.T) {
	im := newIdentityMap()
	task := &testTask{ID: rop.NewUUID()}
	if err := im.register("task", task.ID, task, false); err != nil {
		t.Fatalf("register error: %v", err)
	}
	im.forget(task)
	if _, ok := im.lookup("task", task.ID); ok {
		t.Fatalf("lookup should miss after forget")
	}
	// Forgetting an unknown object is a no-op.
	im.forget(&testTask{ID: rop.NewUUID()})
}

func Test_IdentityMap_CloneIsIndependent(t *testing.T) {
	im := newIdentityMap()
	existing := &testTask{ID: rop.NewUUID()}
	if err := im.register("task", existing.ID, existing, false); err != nil {
		t.Fatalf("register error: %v", err)
	}
	child := im.clone()
	added := &testTask{ID: rop.NewUUID()}
	if err := child.register("task", added.ID, added, false); err != nil {
		t.Fatalf("register on clone error: %v", err)
	}
	if _, ok := im.lookup("task", added.ID); ok {
		t.Fatalf("original should not see the clone's registration")
	}
	if _, ok := child.lookup("task", existing.ID); !ok {
		t.Fatalf("clone should see the original's registration")
	}

	im.adopt(child)
	if _, ok := im.lookup("task", added.ID); !ok {
		t.Fatalf("adopt should fold the clone's view back in")
	}
}
