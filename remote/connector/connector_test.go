package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/remote_connector/internal/logging"
	"github.com/R3E-Network/remote_connector/internal/remotetest"
	"github.com/R3E-Network/remote_connector/remote/model"
	"github.com/R3E-Network/remote_connector/remote/transport"
)

// countingTransport counts object type declarations on top of the real client.
type countingTransport struct {
	*transport.Client

	mu      sync.Mutex
	defined map[string]int
}

func (c *countingTransport) DefineObjectType(name string, def model.TypeDefinition) {
	c.mu.Lock()
	c.defined[name]++
	c.mu.Unlock()
	c.Client.DefineObjectType(name, def)
}

func (c *countingTransport) definedCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defined[name]
}

var personProperties = []model.Property{
	{Name: "first", Type: model.TypeString},
	{Name: "last", Type: model.TypeString},
	{Name: "age", Type: model.TypeNumber},
}

func testModel() model.Descriptor {
	return model.Descriptor{Name: "TestModel", Properties: personProperties}
}

func parentModel() model.Descriptor {
	return model.Descriptor{
		Name:       "Parent",
		Properties: []model.Property{{Name: "name", Type: model.TypeString}},
		Relations: []model.Relation{
			{Name: "children", Kind: model.HasMany, Model: "Child", ForeignKey: "parentId"},
			{Name: "favorite", Kind: model.HasOne, Model: "Child", ForeignKey: "favoriteOf"},
		},
	}
}

func childModel() model.Descriptor {
	return model.Descriptor{
		Name: "Child",
		Properties: []model.Property{
			{Name: "name", Type: model.TypeString},
			{Name: "parentId", Type: model.TypeNumber},
			{Name: "favoriteOf", Type: model.TypeNumber},
		},
	}
}

func newConnector(t *testing.T, url string) (*Connector, *countingTransport) {
	t.Helper()
	client, err := transport.New(transport.Config{URL: url, Logger: logging.NewDiscard("transport")})
	require.NoError(t, err)
	ct := &countingTransport{Client: client, defined: make(map[string]int)}

	conn, err := New(Settings{
		URL:     url,
		Options: map[string]any{"test": "abc"},
		Client:  ct,
		Logger:  logging.NewDiscard("connector"),
	})
	require.NoError(t, err)
	return conn, ct
}

// setup starts a remote service for descs and a connector with the same
// models defined, in order.
func setup(t *testing.T, descs ...model.Descriptor) (*remotetest.Server, *Connector, *countingTransport) {
	t.Helper()
	srv := remotetest.NewServer(descs...)
	t.Cleanup(srv.Close)

	conn, ct := newConnector(t, srv.URL)
	for _, d := range descs {
		_, err := conn.Define(d)
		require.NoError(t, err)
	}
	return srv, conn, ct
}

func mustModel(t *testing.T, conn *Connector, name string) *Model {
	t.Helper()
	m, err := conn.Model(name)
	require.NoError(t, err)
	return m
}

// =============================================================================
// Connector
// =============================================================================

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Settings{Logger: logging.NewDiscard("connector")})
	assert.Error(t, err)
}

func TestConnector_RemoteOptions(t *testing.T) {
	_, conn, _ := setup(t)
	assert.Equal(t, map[string]any{"test": "abc"}, conn.RemoteOptions())
}

func TestConnector_ModelNotDefined(t *testing.T) {
	_, conn, _ := setup(t)
	_, err := conn.Model("Nope")
	assert.ErrorIs(t, err, ErrNotDefined)
}

func TestDefine_Twice(t *testing.T) {
	_, conn, ct := setup(t, testModel())

	again, err := conn.Define(testModel())
	require.NoError(t, err)
	assert.Same(t, mustModel(t, conn, "TestModel"), again)
	assert.Equal(t, 1, ct.definedCount("TestModel"))
	assert.Equal(t, []string{"TestModel"}, conn.Models())
}

func TestDefine_InvalidDescriptor(t *testing.T) {
	_, conn, _ := setup(t)
	_, err := conn.Define(model.Descriptor{})
	assert.Error(t, err)
}

// =============================================================================
// Object type declaration
// =============================================================================

func TestDefine_DeclaresEachTypeOnceForEveryRelationKind(t *testing.T) {
	for _, kind := range model.RelationKinds() {
		kind := kind
		t.Run(string(kind), func(t *testing.T) {
			child := model.Descriptor{Name: "ChildModel"}
			through := model.Descriptor{Name: "LinkModel"}
			parent := model.Descriptor{
				Name:      "RemoteModel",
				Relations: []model.Relation{{Name: "children", Kind: kind, Model: "ChildModel", Through: "LinkModel"}},
			}

			for _, order := range [][]model.Descriptor{
				{child, through, parent},
				{parent, child, through},
			} {
				_, conn, ct := setup(t, order...)
				assert.Equal(t, 1, ct.definedCount("RemoteModel"))
				assert.Equal(t, 1, ct.definedCount("ChildModel"))
				assert.Equal(t, 3, conn.Registry().Count())
			}
		})
	}
}

func TestDefine_SiblingsSharingChild(t *testing.T) {
	child := model.Descriptor{Name: "Child"}
	a := model.Descriptor{Name: "A", Relations: []model.Relation{{Name: "kids", Kind: model.HasMany, Model: "Child"}}}
	b := model.Descriptor{Name: "B", Relations: []model.Relation{{Name: "kid", Kind: model.HasOne, Model: "Child"}}}

	_, _, ct := setup(t, a, child, b)
	assert.Equal(t, 1, ct.definedCount("Child"))
	assert.Equal(t, 1, ct.definedCount("A"))
	assert.Equal(t, 1, ct.definedCount("B"))
}

func TestDefine_ConcurrentDefinitions(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	conn, ct := newConnector(t, srv.URL)

	descs := []model.Descriptor{parentModel(), childModel()}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(d model.Descriptor) {
			defer wg.Done()
			_, err := conn.Define(d)
			assert.NoError(t, err)
		}(descs[i%2])
	}
	wg.Wait()

	assert.Equal(t, 1, ct.definedCount("Parent"))
	assert.Equal(t, 1, ct.definedCount("Child"))
}

func TestConnectors_DoNotShareRegistrations(t *testing.T) {
	_, _, first := setup(t, testModel())
	_, _, second := setup(t, testModel())
	assert.Equal(t, 1, first.definedCount("TestModel"))
	assert.Equal(t, 1, second.definedCount("TestModel"))
}

// =============================================================================
// Model operations
// =============================================================================

func TestModel_Create(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe", "last": "Bob", "age": 100}).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Same(t, m, inst.Model())
	assert.Equal(t, int64(1), inst.ID())
	assert.Equal(t, "Joe", inst.Get("first"))
	assert.Equal(t, int64(100), inst.Get("age"))
}

func TestInstance_SaveNewInstanceCreates(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst := m.New(model.Attributes{"first": "Joe"})
	assert.Nil(t, inst.ID())

	saved, err := inst.Save(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Same(t, inst, saved)
	assert.NotNil(t, inst.ID())
	assert.Equal(t, 1, srv.RequestsFor(http.MethodPost, "/TestModel"))

	inst.Set("last", "Smith")
	_, err = inst.Save(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.RequestsFor(http.MethodPatch, "/TestModel"))

	rows := srv.Rows("TestModel")
	require.Len(t, rows, 1)
	assert.Equal(t, "Smith", rows[0]["last"])
}

func TestModel_UpsertAliasesAreEquivalent(t *testing.T) {
	ctx := context.Background()
	type call func(m *Model, data model.Attributes) *Future[*Instance]
	calls := map[string]call{
		"upsert": func(m *Model, d model.Attributes) *Future[*Instance] { return m.Upsert(ctx, d) },
		"updateOrCreate": func(m *Model, d model.Attributes) *Future[*Instance] {
			return m.UpdateOrCreate(ctx, d)
		},
		"patchOrCreate": func(m *Model, d model.Attributes) *Future[*Instance] { return m.PatchOrCreate(ctx, d) },
	}

	results := make(map[string][]map[string]any)
	for name, fn := range calls {
		srv, conn, _ := setup(t, testModel())
		m := mustModel(t, conn, "TestModel")

		created, err := fn(m, model.Attributes{"first": "Joe", "age": 10}).Await(ctx)
		require.NoError(t, err, name)
		updated, err := fn(m, model.Attributes{"id": created.ID(), "age": 11}).Await(ctx)
		require.NoError(t, err, name)

		results[name] = []map[string]any{created.ToJSON(), updated.ToJSON()}
		assert.Equal(t, 2, srv.RequestsFor(http.MethodPatch, "/TestModel"), name)
	}

	assert.Equal(t, results["upsert"], results["updateOrCreate"])
	assert.Equal(t, results["upsert"], results["patchOrCreate"])
	assert.Equal(t, int64(11), results["upsert"][1]["age"])
	assert.Equal(t, "Joe", results["upsert"][1]["first"])
}

func TestModel_UpsertEmptyBodyMaterializesInstance(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	srv.Handle(http.MethodPatch, "/TestModel", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	inst, err := mustModel(t, conn, "TestModel").Upsert(ctx, model.Attributes{"id": 7, "first": "Joe"}).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, int64(7), inst.ID())
	assert.Equal(t, "Joe", inst.Get("first"))
}

func TestInstance_UpdateAttributesEmptyBodyKeepsUnsent(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe", "last": "Bob"}).Await(ctx)
	require.NoError(t, err)

	srv.Handle(http.MethodPatch, "/TestModel/1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	got, err := inst.UpdateAttributes(ctx, model.Attributes{"last": "Smith"}).Await(ctx)
	require.NoError(t, err)
	assert.Same(t, inst, got)
	assert.Equal(t, "Smith", inst.Get("last"))
	assert.Equal(t, "Joe", inst.Get("first"))
	assert.Equal(t, int64(1), inst.ID())

	_, err = inst.PatchAttributes(ctx, model.Attributes{"age": 4}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Attributes{"id": int64(1), "first": "Joe", "last": "Smith", "age": int64(4)}, inst.Attributes())
}

func TestInstance_UpdateAttributes(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe", "last": "Bob"}).Await(ctx)
	require.NoError(t, err)

	_, err = inst.UpdateAttributes(ctx, model.Attributes{"last": "Smith"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Smith", inst.Get("last"))
	assert.Equal(t, "Joe", inst.Get("first"))

	_, err = inst.PatchAttributes(ctx, model.Attributes{"age": 3}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), inst.Get("age"))
	assert.Equal(t, 2, srv.RequestsFor(http.MethodPatch, "/TestModel/1"))
}

func TestModel_DeleteByID(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe"}).Await(ctx)
	require.NoError(t, err)

	_, err = m.DeleteByID(ctx, inst.ID()).Await(ctx)
	require.NoError(t, err)

	found, err := m.FindByID(ctx, inst.ID(), nil).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestInstance_Destroy(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe"}).Await(ctx)
	require.NoError(t, err)
	_, err = inst.Destroy(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Empty(t, srv.Rows("TestModel"))

	_, err = m.New(nil).Destroy(ctx).Await(ctx)
	assert.ErrorIs(t, err, ErrMissingID)
}

func TestModel_Exists(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe"}).Await(ctx)
	require.NoError(t, err)

	ok, err := m.Exists(ctx, inst.ID()).Await(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(ctx, 999).Await(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModel_ExistsTreats404AsFalse(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	srv.Handle(http.MethodGet, "/TestModel/5/exists", func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteError(w, http.StatusNotFound, "Error", "MODEL_NOT_FOUND", "missing", nil)
	})
	ctx := context.Background()

	ok, err := mustModel(t, conn, "TestModel").Exists(ctx, 5).Await(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModel_FindByIDAbsentInBothModes(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.FindByID(ctx, 42, nil).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, inst)

	type outcome struct {
		inst *Instance
		err  error
	}
	got := make(chan outcome, 1)
	m.FindByID(ctx, 42, nil, Done(func(inst *Instance, err error) {
		got <- outcome{inst, err}
	}))

	select {
	case o := <-got:
		assert.NoError(t, o.err)
		assert.Nil(t, o.inst)
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
	}
}

func TestModel_FindOne(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	none, err := m.FindOne(ctx, &model.Filter{Where: model.Where{"first": "nobody"}}).Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = m.Create(ctx, model.Attributes{"first": "Joe", "age": 1}).Await(ctx)
	require.NoError(t, err)
	_, err = m.Create(ctx, model.Attributes{"first": "Ann", "age": 2}).Await(ctx)
	require.NoError(t, err)

	one, err := m.FindOne(ctx, &model.Filter{Order: []string{"age DESC"}}).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, "Ann", one.Get("first"))
}

func TestModel_Find(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	for _, age := range []int{5, 15, 25} {
		_, err := m.Create(ctx, model.Attributes{"age": age}).Await(ctx)
		require.NoError(t, err)
	}

	all, err := m.Find(ctx, nil).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := m.Find(ctx, &model.Filter{Where: model.Where{"age": model.Between(10, 30)}, Limit: 1}).Await(ctx)
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, int64(15), some[0].Get("age"))
}

func TestModel_CountAfterInterleavedCreates(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	ages := []int{100, 50, 200, 99}
	futures := make([]*Future[*Instance], 0, len(ages))
	for _, age := range ages {
		futures = append(futures, m.Create(ctx, model.Attributes{"first": "x", "age": age}))
	}
	for _, f := range futures {
		_, err := f.Await(ctx)
		require.NoError(t, err)
	}

	n, err := m.Count(ctx, model.Where{"age": model.Gt(99)}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	total, err := m.Count(ctx, nil).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestModel_UpdateAll(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	for _, age := range []int{5, 10} {
		_, err := m.Create(ctx, model.Attributes{"last": "old", "age": age}).Await(ctx)
		require.NoError(t, err)
	}

	res, err := m.UpdateAll(ctx, model.Where{"age": model.Lt(6)}, model.Attributes{"last": "young"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{Count: 1}, res)

	rows := srv.Rows("TestModel")
	assert.Equal(t, "young", rows[0]["last"])
	assert.Equal(t, "old", rows[1]["last"])
}

func TestModel_ReplaceAndUpsertWithWhere(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.ReplaceOrCreate(ctx, model.Attributes{"first": "Joe", "last": "Bob"}).Await(ctx)
	require.NoError(t, err)

	replaced, err := m.ReplaceByID(ctx, inst.ID(), model.Attributes{"first": "Jim"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Jim", replaced.Get("first"))
	assert.Nil(t, replaced.Get("last"))

	upserted, err := m.UpsertWithWhere(ctx, model.Where{"first": "Jim"}, model.Attributes{"age": 40}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, inst.ID(), upserted.ID())
	assert.Equal(t, int64(40), upserted.Get("age"))
}

func TestModel_InvokeByAlias(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe"}).Await(ctx)
	require.NoError(t, err)

	_, err = m.Invoke(ctx, "removeById", Args{ID: inst.ID()}).Await(ctx)
	require.NoError(t, err)

	res, err := m.Invoke(ctx, "count", Args{}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Count)

	_, err = m.Invoke(ctx, "nope", Args{}).Await(ctx)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

// =============================================================================
// Custom paths and options
// =============================================================================

func TestModel_CustomPath(t *testing.T) {
	d := testModel()
	d.Options.HTTP.Path = "/custom-models"
	srv, conn, _ := setup(t, d)
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	inst, err := m.Create(ctx, model.Attributes{"first": "Joe"}).Await(ctx)
	require.NoError(t, err)
	found, err := m.FindByID(ctx, inst.ID(), nil).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, 1, srv.RequestsFor(http.MethodPost, "/custom-models"))
	assert.Equal(t, 1, srv.RequestsFor(http.MethodGet, "/custom-models/1"))
	assert.Equal(t, 0, srv.RequestsFor(http.MethodPost, "/TestModel"))
}

func TestCallOptions_PassThrough(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := logging.WithRequestID(context.Background(), "req-1")
	m := mustModel(t, conn, "TestModel")

	var header string
	srv.Handle(http.MethodGet, "/TestModel/count", func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Tenant")
		w.Write([]byte(`{"count":3}`))
	})

	n, err := m.Count(ctx, nil, WithOptions(map[string]any{"test": "abc"}), WithHeader("X-Tenant", "t1")).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "t1", header)

	log := srv.Log()
	require.Len(t, log, 1)
	assert.Contains(t, log[0].Query, "options=")
	assert.Equal(t, "req-1", log[0].RequestID)
}

// =============================================================================
// Dual-mode calls
// =============================================================================

func TestCallback_DeliveredAsynchronously(t *testing.T) {
	_, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	var mu sync.Mutex
	got := make(chan *Instance, 1)

	// the callback cannot run while the caller still holds mu
	mu.Lock()
	fut := m.Create(ctx, model.Attributes{"first": "Joe"}, Done(func(inst *Instance, err error) {
		mu.Lock()
		defer mu.Unlock()
		assert.NoError(t, err)
		got <- inst
	}))
	mu.Unlock()

	select {
	case inst := <-got:
		require.NotNil(t, inst)
		assert.Equal(t, "Joe", inst.Get("first"))
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
	}

	// the returned future settles with the same outcome
	inst, err := fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Joe", inst.Get("first"))
}

func TestCallback_SingleDispatch(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	ctx := context.Background()
	m := mustModel(t, conn, "TestModel")

	done := make(chan struct{})
	fut := m.Count(ctx, nil, Done(func(n int64, err error) { close(done) }))
	_, err := fut.Await(ctx)
	require.NoError(t, err)
	<-done

	assert.Equal(t, 1, srv.RequestsFor(http.MethodGet, "/TestModel/count"))
}

func TestCallback_WrongType(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	var logs bytes.Buffer
	conn.log = logging.New("connector", "error")
	conn.log.SetOutput(&logs)
	ctx := context.Background()

	called := make(chan struct{}, 1)
	_, err := mustModel(t, conn, "TestModel").Count(ctx, nil, Done(func(n int, err error) { called <- struct{}{} })).Await(ctx)
	assert.ErrorIs(t, err, ErrCallbackType)
	assert.Equal(t, 0, srv.Requests())

	assert.Contains(t, logs.String(), `"level":"error"`)
	assert.Contains(t, logs.String(), `"operation":"count"`)
	assert.Contains(t, logs.String(), "count delivers int64, got func(int, error)")

	select {
	case <-called:
		t.Fatal("mismatched callback must not be called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallback_ErrorDelivered(t *testing.T) {
	srv, conn, _ := setup(t, testModel())
	srv.Handle(http.MethodPost, "/TestModel", func(w http.ResponseWriter, r *http.Request) {
		remotetest.WriteError(w, http.StatusInternalServerError, "Error", "BOOM", "boom", nil)
	})
	ctx := context.Background()

	got := make(chan error, 1)
	mustModel(t, conn, "TestModel").Create(ctx, model.Attributes{}, Done(func(_ *Instance, err error) { got <- err }))

	select {
	case err := <-got:
		var rerr *RemoteStatusError
		require.True(t, errors.As(err, &rerr))
		assert.Equal(t, http.StatusInternalServerError, rerr.StatusCode)
		assert.Equal(t, "BOOM", rerr.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
	}
}

// =============================================================================
// Errors
// =============================================================================

func TestErrors_Validation(t *testing.T) {
	d := testModel()
	d.Properties = append([]model.Property{{Name: "email", Type: model.TypeString, Required: true}}, d.Properties...)
	_, conn, _ := setup(t, d)
	ctx := context.Background()

	_, err := mustModel(t, conn, "TestModel").Create(ctx, model.Attributes{"first": "Joe"}).Await(ctx)
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"presence"}, verr.Codes["email"])

	var rerr *RemoteStatusError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusUnprocessableEntity, rerr.StatusCode)
}

func TestErrors_Transport(t *testing.T) {
	srv := remotetest.NewServer(testModel())
	conn, _ := newConnector(t, srv.URL)
	m, err := conn.Define(testModel())
	require.NoError(t, err)
	srv.Close()

	ctx := context.Background()
	_, err = m.FindByID(ctx, 1, nil).Await(ctx)
	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Contains(t, terr.Op, "TestModel.findById")
}

// =============================================================================
// Relations
// =============================================================================

func TestRelations_IncludeServedFromCache(t *testing.T) {
	srv, conn, _ := setup(t, parentModel(), childModel())
	ctx := context.Background()
	parents := mustModel(t, conn, "Parent")
	children := mustModel(t, conn, "Child")

	parent, err := parents.Create(ctx, model.Attributes{"name": "p"}).Await(ctx)
	require.NoError(t, err)
	child, err := children.Create(ctx, model.Attributes{"name": "c", "parentId": parent.ID(), "favoriteOf": parent.ID()}).Await(ctx)
	require.NoError(t, err)

	found, err := parents.FindByID(ctx, parent.ID(), &model.Filter{Include: model.Include("children", "favorite")}).Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, found)

	before := srv.Requests()

	kids, err := found.Related(ctx, "children", nil).Await(ctx)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, child.ID(), kids[0].ID())
	assert.Equal(t, "Child", kids[0].Model().Name())

	fav, err := found.RelatedOne(ctx, "favorite").Await(ctx)
	require.NoError(t, err)
	require.NotNil(t, fav)
	assert.Equal(t, "c", fav.Get("name"))

	assert.Equal(t, before, srv.Requests(), "included relations must not hit the network")

	cached, ok := found.Cached("children")
	assert.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestRelations_CachedInstancesAreShared(t *testing.T) {
	_, conn, _ := setup(t, parentModel(), childModel())
	ctx := context.Background()
	parents := mustModel(t, conn, "Parent")
	children := mustModel(t, conn, "Child")

	parent, err := parents.Create(ctx, model.Attributes{"name": "p"}).Await(ctx)
	require.NoError(t, err)
	_, err = children.Create(ctx, model.Attributes{"name": "c", "parentId": parent.ID()}).Await(ctx)
	require.NoError(t, err)

	found, err := parents.FindByID(ctx, parent.ID(), &model.Filter{Include: model.Include("children")}).Await(ctx)
	require.NoError(t, err)

	first, ok := found.Cached("children")
	require.True(t, ok)
	second, _ := found.Cached("children")
	require.Len(t, second, 1)
	assert.Same(t, first[0], second[0])

	var wg sync.WaitGroup
	for n := 0; n < 16; n++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			kids, _ := found.Cached("children")
			kids[0].Set("name", fmt.Sprintf("c%d", n))
		}(n)
		go func() {
			defer wg.Done()
			_ = found.ToJSON()
		}()
	}
	wg.Wait()

	assert.NotEqual(t, "c", first[0].Get("name"))
	included := found.ToJSON()["children"].([]any)
	assert.Equal(t, "c", included[0].(map[string]any)["name"], "child changes stay on the child instance")
}

func TestRelations_IncludedEmptyToOne(t *testing.T) {
	srv, conn, _ := setup(t, parentModel(), childModel())
	ctx := context.Background()
	parents := mustModel(t, conn, "Parent")

	parent, err := parents.Create(ctx, model.Attributes{"name": "p"}).Await(ctx)
	require.NoError(t, err)
	found, err := parents.FindByID(ctx, parent.ID(), &model.Filter{Include: model.Include("favorite")}).Await(ctx)
	require.NoError(t, err)

	before := srv.Requests()
	fav, err := found.RelatedOne(ctx, "favorite").Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, fav)
	assert.Equal(t, before, srv.Requests())
}

func TestRelations_FetchWhenNotIncluded(t *testing.T) {
	srv, conn, _ := setup(t, parentModel(), childModel())
	ctx := context.Background()
	parents := mustModel(t, conn, "Parent")

	parent, err := parents.Create(ctx, model.Attributes{"name": "p"}).Await(ctx)
	require.NoError(t, err)

	created, err := parent.CreateRelated(ctx, "children", model.Attributes{"name": "c1"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, parent.ID(), created.Get("parentId"))
	_, err = parent.CreateRelated(ctx, "children", model.Attributes{"name": "c2"}).Await(ctx)
	require.NoError(t, err)

	kids, err := parent.Related(ctx, "children", nil).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, kids, 2)
	assert.Equal(t, 1, srv.RequestsFor(http.MethodGet, "/Parent/1/children"))

	n, err := parent.CountRelated(ctx, "children", model.Where{"name": "c2"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	fav, err := parent.RelatedOne(ctx, "favorite").Await(ctx)
	require.NoError(t, err)
	assert.Nil(t, fav)

	_, err = parent.Related(ctx, "nope", nil).Await(ctx)
	assert.ErrorIs(t, err, ErrUnknownRelation)
}

func TestScenario_ParentWithChildren(t *testing.T) {
	_, conn, ct := setup(t, parentModel(), childModel())
	ctx := context.Background()
	parents := mustModel(t, conn, "Parent")
	children := mustModel(t, conn, "Child")

	parent, err := parents.Create(ctx, model.Attributes{"name": "parent"}).Await(ctx)
	require.NoError(t, err)
	child, err := children.Create(ctx, model.Attributes{"name": "child", "parentId": parent.ID()}).Await(ctx)
	require.NoError(t, err)

	found, err := parents.FindByID(ctx, parent.ID(), &model.Filter{Include: model.Include("children")}).Await(ctx)
	require.NoError(t, err)

	kids, err := found.Related(ctx, "children", nil).Await(ctx)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, child.ToJSON(), kids[0].ToJSON())

	assert.Equal(t, 1, ct.definedCount("Parent"))
	assert.Equal(t, 1, ct.definedCount("Child"))

	var decoded struct {
		Name     string `json:"name"`
		Children []struct {
			Name string `json:"name"`
		} `json:"children"`
	}
	require.NoError(t, found.Decode(&decoded))
	assert.Equal(t, "parent", decoded.Name)
	require.Len(t, decoded.Children, 1)
	assert.Equal(t, "child", decoded.Children[0].Name)
}
