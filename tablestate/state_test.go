package tablestate

import (
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/shibukawa/sqlconvention"
	"github.com/shibukawa/sqlconvention/tabledef"
)

func TestState_GetUnknownHandle(t *testing.T) {
	s := New(SuiteScope)

	_, err := s.Get(tabledef.Handle("never"))
	assert.IsError(t, err, sqlconvention.ErrTableNotFound)
	assert.Contains(t, err.Error(), "immutable table 'never'")
}

func TestState_RegisterKeepsFirst(t *testing.T) {
	s := New(SuiteScope)
	handle := tabledef.Handle("orders")

	first := s.Register(TableInstance{Handle: handle, NameInDatabase: "orders_1", Database: "psql", CreatedAt: time.Now()})
	second := s.Register(TableInstance{Handle: handle, NameInDatabase: "orders_2", Database: "psql"})

	assert.Equal(t, "orders_1", first.NameInDatabase)
	assert.Equal(t, "orders_1", second.NameInDatabase)

	got, err := s.Get(handle)
	assert.NoError(t, err)
	assert.Equal(t, "orders_1", got.NameInDatabase)
	assert.Equal(t, 1, s.Len())
}

func TestState_HandlesAreStructural(t *testing.T) {
	s := New(TestScope)
	s.Register(TableInstance{Handle: tabledef.Handle("orders").InSchema("a"), NameInDatabase: "a_orders"})

	_, err := s.Get(tabledef.Handle("orders"))
	assert.IsError(t, err, sqlconvention.ErrTableNotFound)

	got, err := s.Get(tabledef.TableHandle{Name: "orders", Schema: "a"})
	assert.NoError(t, err)
	assert.Equal(t, "a_orders", got.NameInDatabase)
}

func TestState_RemoveAndClear(t *testing.T) {
	s := New(TestScope)
	s.Register(TableInstance{Handle: tabledef.Handle("a"), NameInDatabase: "a_1"})
	s.Register(TableInstance{Handle: tabledef.Handle("b"), NameInDatabase: "b_1"})

	removed, ok := s.Remove(tabledef.Handle("a"))
	assert.True(t, ok)
	assert.Equal(t, "a_1", removed.NameInDatabase)

	_, ok = s.Remove(tabledef.Handle("a"))
	assert.False(t, ok)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

func TestState_LockSerializesPerHandle(t *testing.T) {
	s := New(SuiteScope)
	handle := tabledef.Handle("orders")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := s.Lock(handle)
			defer unlock()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}

	wg.Wait()
	assert.Equal(t, 1, maxSeen)

	// Different handles do not block each other.
	unlockA := s.Lock(tabledef.Handle("a"))
	unlockB := s.Lock(tabledef.Handle("b"))
	unlockB()
	unlockA()
}

func TestChain(t *testing.T) {
	immutable := New(SuiteScope)
	mutable := New(TestScope)

	immutable.Register(TableInstance{Handle: tabledef.Handle("orders"), NameInDatabase: "orders_shared"})
	mutable.Register(TableInstance{Handle: tabledef.Handle("orders"), NameInDatabase: "orders_private"})
	immutable.Register(TableInstance{Handle: tabledef.Handle("items"), NameInDatabase: "items_shared"})

	chain := Chain{mutable, immutable}

	got, err := chain.Get(tabledef.Handle("orders"))
	assert.NoError(t, err)
	assert.Equal(t, "orders_private", got.NameInDatabase)

	got, err = chain.Get(tabledef.Handle("items"))
	assert.NoError(t, err)
	assert.Equal(t, "items_shared", got.NameInDatabase)

	_, err = chain.Get(tabledef.Handle("none"))
	assert.IsError(t, err, sqlconvention.ErrTableNotFound)

	_, err = Chain{}.Get(tabledef.Handle("none"))
	assert.IsError(t, err, sqlconvention.ErrTableNotFound)
}
