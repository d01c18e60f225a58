package router

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatbroker/internal/fixtures"
)

func TestRouter_BindReplaceAndUnbind(t *testing.T) {
	r := NewRouter(nil)
	first := fixtures.NewFakeConn()
	second := fixtures.NewFakeConn()

	assert.Nil(t, r.Bind("u1", first))
	prev := r.Bind("u1", second)
	assert.Same(t, first, prev)
	assert.True(t, first.IsOpen(), "rebinding must not close the previous handle")

	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())

	assert.Nil(t, r.Bind("u1", second), "rebinding the same handle returns nothing")

	r.Unbind("u1")
	r.Unbind("u1")
	_, ok = r.Lookup("u1")
	assert.False(t, ok)
}

func TestRouter_BindIgnoresInvalid(t *testing.T) {
	r := NewRouter(nil)
	assert.Nil(t, r.Bind("", fixtures.NewFakeConn()))
	assert.Nil(t, r.Bind("u1", nil))
	assert.Equal(t, 0, r.Count())
}

func TestRouter_UnbindIfOnlyRemovesCurrentHandle(t *testing.T) {
	r := NewRouter(nil)
	stale := fixtures.NewFakeConn()
	fresh := fixtures.NewFakeConn()

	r.Bind("u1", stale)
	r.Bind("u1", fresh)

	assert.False(t, r.UnbindIf("u1", stale))
	assert.True(t, r.IsBound("u1"))
	assert.True(t, r.UnbindIf("u1", fresh))
	assert.False(t, r.IsBound("u1"))
	assert.False(t, r.UnbindIf("missing", fresh))
}

func TestRouter_BroadcastSkipsClosedAndFailing(t *testing.T) {
	r := NewRouter(nil)
	a, b, c, d := fixtures.NewFakeConn(), fixtures.NewFakeConn(), fixtures.NewFakeConn(), fixtures.NewFakeConn()
	c.Close()
	d.SendErr = errors.New("buffer full")
	r.Bind("a", a)
	r.Bind("b", b)
	r.Bind("c", c)
	r.Bind("d", d)

	delivered := r.Broadcast([]byte("<message/>"))

	assert.Equal(t, 2, delivered)
	assert.Len(t, a.Frames(), 1)
	assert.Len(t, b.Frames(), 1)
	assert.Empty(t, c.Frames())
	assert.Empty(t, d.Frames())
}

func TestRouter_UnicastTargetAndSenderEcho(t *testing.T) {
	r := NewRouter(nil)
	alice, bob, carol := fixtures.NewFakeConn(), fixtures.NewFakeConn(), fixtures.NewFakeConn()
	r.Bind("alice", alice)
	r.Bind("bob", bob)
	r.Bind("carol", carol)

	assert.True(t, r.Unicast([]byte("dm"), "alice", "bob"))

	assert.Equal(t, [][]byte{[]byte("dm")}, alice.Frames())
	assert.Equal(t, [][]byte{[]byte("dm")}, bob.Frames())
	assert.Empty(t, carol.Frames())
}

func TestRouter_UnicastToSelfDeliversOnce(t *testing.T) {
	r := NewRouter(nil)
	alice := fixtures.NewFakeConn()
	r.Bind("alice", alice)

	assert.True(t, r.Unicast([]byte("note"), "alice", "alice"))
	assert.Len(t, alice.Frames(), 1)
}

func TestRouter_UnicastOfflineTargetStillEchoes(t *testing.T) {
	r := NewRouter(nil)
	bob := fixtures.NewFakeConn()
	r.Bind("bob", bob)

	assert.False(t, r.Unicast([]byte("dm"), "ghost", "bob"))
	assert.Len(t, bob.Frames(), 1)

	closed := fixtures.NewFakeConn()
	closed.Close()
	r.Bind("closed", closed)
	assert.False(t, r.Unicast([]byte("dm"), "closed", "bob"))
	assert.Len(t, bob.Frames(), 2)
}

func TestRouter_ConcurrentBindBroadcast(t *testing.T) {
	r := NewRouter(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i)
			conn := fixtures.NewFakeConn()
			r.Bind(id, conn)
			r.UnbindIf(id, conn)
			r.Bind(id, conn)
		}(i)
		go func() {
			defer wg.Done()
			r.Broadcast([]byte("tick"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, r.Count())
}
