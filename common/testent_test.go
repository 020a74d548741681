package common

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/rop"
	"github.com/sharedcode/rop/common/mocks"
)

var ctx = context.Background()

// Test entity graph: a store assigned category owning nothing, engine
// assigned tasks carrying a nullable foreign key to their category, plus an
// employee/project pair whose mutual references exercise cycle handling.

type testCategory struct {
	ID    int64
	Name  string
	Tasks []*testTask
}

func (c *testCategory) EntityTypeName() string { return "category" }

type testTask struct {
	ID       rop.UUID
	Title    string
	Priority int64
	Due      time.Time
	Payload  []byte
	Category *testCategory
}

func (t *testTask) EntityTypeName() string { return "task" }

type testEmployee struct {
	ID      rop.UUID
	Name    string
	Project *testProject
}

func (e *testEmployee) EntityTypeName() string { return "employee" }

type testProject struct {
	ID   rop.UUID
	Name string
	Lead *testEmployee
}

func (p *testProject) EntityTypeName() string { return "project" }

func categoryMapping() rop.EntityMapping {
	nameGet, nameSet := rop.Access(func(c *testCategory) *string { return &c.Name })
	tasksGet := rop.AccessList(func(c *testCategory) *[]*testTask { return &c.Tasks })
	return rop.EntityMapping{
		TypeName:     "category",
		Table:        "categories",
		IDField:      "id",
		IDColumn:     "id",
		IDGeneration: rop.StoreAssigned,
		GetID:        func(e rop.Entity) any { return e.(*testCategory).ID },
		SetID:        func(e rop.Entity, id any) { e.(*testCategory).ID = id.(int64) },
		New:          func() rop.Entity { return &testCategory{} },
		Fields: []rop.FieldMapping{
			{Name: "name", Column: "name", Get: nameGet, Set: nameSet},
		},
		Associations: []rop.AssociationMapping{
			{Name: "tasks", Target: "task", ToMany: true, GetAll: tasksGet},
		},
	}
}

func taskMapping() rop.EntityMapping {
	titleGet, titleSet := rop.Access(func(t *testTask) *string { return &t.Title })
	priorityGet, prioritySet := rop.Access(func(t *testTask) *int64 { return &t.Priority })
	dueGet, dueSet := rop.Access(func(t *testTask) *time.Time { return &t.Due })
	payloadGet, payloadSet := rop.Access(func(t *testTask) *[]byte { return &t.Payload })
	categoryGet, categorySet := rop.AccessRef(func(t *testTask) **testCategory { return &t.Category })
	return rop.EntityMapping{
		TypeName:     "task",
		Table:        "tasks",
		IDField:      "id",
		IDColumn:     "id",
		IDGeneration: rop.PreGenerated,
		GetID:        func(e rop.Entity) any { return e.(*testTask).ID },
		SetID:        func(e rop.Entity, id any) { e.(*testTask).ID = id.(rop.UUID) },
		New:          func() rop.Entity { return &testTask{} },
		Fields: []rop.FieldMapping{
			{Name: "title", Column: "title", Get: titleGet, Set: titleSet},
			{Name: "priority", Column: "priority", Get: priorityGet, Set: prioritySet},
			{Name: "due", Column: "due", Converter: rop.TimeTextConverter{}, Get: dueGet, Set: dueSet},
			{Name: "payload", Column: "payload", Get: payloadGet, Set: payloadSet},
		},
		Associations: []rop.AssociationMapping{
			{Name: "category", Column: "category_id", Target: "category", OwningSide: true, Nullable: true, Get: categoryGet, Set: categorySet},
		},
	}
}

func newTestRegistry(t *testing.T) *rop.MappingRegistry {
	t.Helper()
	registry := rop.NewMappingRegistry()
	if err := registry.Register(categoryMapping()); err != nil {
		t.Fatalf("register category: %v", err)
	}
	if err := registry.Register(taskMapping()); err != nil {
		t.Fatalf("register task: %v", err)
	}
	if err := registry.Validate(); err != nil {
		t.Fatalf("validate registry: %v", err)
	}
	return registry
}

// newCycleRegistry maps employee.project as a mandatory foreign key and
// project.lead as nullable or mandatory per the flag, which decides whether
// the insert cycle between them is breakable.
func newCycleRegistry(t *testing.T, nullableLead bool) *rop.MappingRegistry {
	t.Helper()
	registry := rop.NewMappingRegistry()

	empNameGet, empNameSet := rop.Access(func(e *testEmployee) *string { return &e.Name })
	projectGet, projectSet := rop.AccessRef(func(e *testEmployee) **testProject { return &e.Project })
	if err := registry.Register(rop.EntityMapping{
		TypeName:     "employee",
		Table:        "employees",
		IDField:      "id",
		IDColumn:     "id",
		IDGeneration: rop.PreGenerated,
		GetID:        func(e rop.Entity) any { return e.(*testEmployee).ID },
		SetID:        func(e rop.Entity, id any) { e.(*testEmployee).ID = id.(rop.UUID) },
		New:          func() rop.Entity { return &testEmployee{} },
		Fields: []rop.FieldMapping{
			{Name: "name", Column: "name", Get: empNameGet, Set: empNameSet},
		},
		Associations: []rop.AssociationMapping{
			{Name: "project", Column: "project_id", Target: "project", OwningSide: true, Nullable: false, Get: projectGet, Set: projectSet},
		},
	}); err != nil {
		t.Fatalf("register employee: %v", err)
	}

	projNameGet, projNameSet := rop.Access(func(p *testProject) *string { return &p.Name })
	leadGet, leadSet := rop.AccessRef(func(p *testProject) **testEmployee { return &p.Lead })
	if err := registry.Register(rop.EntityMapping{
		TypeName:     "project",
		Table:        "projects",
		IDField:      "id",
		IDColumn:     "id",
		IDGeneration: rop.PreGenerated,
		GetID:        func(e rop.Entity) any { return e.(*testProject).ID },
		SetID:        func(e rop.Entity, id any) { e.(*testProject).ID = id.(rop.UUID) },
		New:          func() rop.Entity { return &testProject{} },
		Fields: []rop.FieldMapping{
			{Name: "name", Column: "name", Get: projNameGet, Set: projNameSet},
		},
		Associations: []rop.AssociationMapping{
			{Name: "lead", Column: "lead_id", Target: "employee", OwningSide: true, Nullable: nullableLead, Get: leadGet, Set: leadSet},
		},
	}); err != nil {
		t.Fatalf("register project: %v", err)
	}
	if err := registry.Validate(); err != nil {
		t.Fatalf("validate registry: %v", err)
	}
	return registry
}

func newTestManager(t *testing.T) (*EntityManager, *mocks.MockConnection) {
	t.Helper()
	conn := mocks.NewMockConnection()
	return NewEntityManager(conn, newTestRegistry(t)), conn
}

func newCycleManager(t *testing.T, nullableLead bool) (*EntityManager, *mocks.MockConnection) {
	t.Helper()
	conn := mocks.NewMockConnection()
	return NewEntityManager(conn, newCycleRegistry(t, nullableLead)), conn
}

// loadedTask plants a task in the manager as if it had been loaded: managed,
// registered and snapshotted, without touching the connection.
func loadedTask(t *testing.T, em *EntityManager, task *testTask) *trackedEntity {
	t.Helper()
	if task.ID.IsNil() {
		task.ID = rop.NewUUID()
	}
	m, err := em.provider.Mapping("task")
	if err != nil {
		t.Fatalf("task mapping: %v", err)
	}
	if err := em.active.identity.register(m.TypeName, task.ID, task, false); err != nil {
		t.Fatalf("register identity: %v", err)
	}
	rec := em.active.tracker.track(task, rop.StateManaged, noAction)
	snap, err := takeSnapshot(em.provider, m, task)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	rec.snapshot = snap
	return rec
}

// loadedCategory plants a category in the manager as if it had been loaded.
func loadedCategory(t *testing.T, em *EntityManager, c *testCategory) *trackedEntity {
	t.Helper()
	if c.ID == 0 {
		t.Fatalf("loadedCategory needs an assigned id")
	}
	m, err := em.provider.Mapping("category")
	if err != nil {
		t.Fatalf("category mapping: %v", err)
	}
	if err := em.active.identity.register(m.TypeName, c.ID, c, false); err != nil {
		t.Fatalf("register identity: %v", err)
	}
	rec := em.active.tracker.track(c, rop.StateManaged, noAction)
	snap, err := takeSnapshot(em.provider, m, c)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	rec.snapshot = snap
	return rec
}
