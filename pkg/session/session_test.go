package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService(time.Minute)

	a, err := svc.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.Len(t, a.ID(), 36)

	again, err := svc.GetOrCreate(ctx, a.ID())
	require.NoError(t, err)
	assert.Same(t, a, again)

	named, err := svc.GetOrCreate(ctx, "browser-tab-1")
	require.NoError(t, err)
	assert.Equal(t, "browser-tab-1", named.ID())

	ids, err := svc.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID(), "browser-tab-1"}, ids)

	require.NoError(t, svc.Delete(ctx, "browser-tab-1"))
	_, err = svc.Get(ctx, "browser-tab-1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()
	svc := InMemoryService(10 * time.Minute)
	now := time.Now()
	svc.now = func() time.Time { return now }

	sess, err := svc.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	sess.Set("k", "v")

	now = now.Add(5 * time.Minute)
	_, err = svc.Get(ctx, "s1")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	_, err = svc.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	fresh, err := svc.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.NotSame(t, sess, fresh)
	_, err = fresh.Get("k")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, svc.Sweep())
	ids, _ := svc.List(ctx)
	assert.Empty(t, ids)
}

func TestState(t *testing.T) {
	sess := newSession("s", time.Now())
	_, err := sess.Get("missing")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)

	sess.Set("last_expert", "Content Expert")
	v, err := sess.Get("last_expert")
	require.NoError(t, err)
	assert.Equal(t, "Content Expert", v)

	count := 0
	for range sess.All() {
		count++
	}
	assert.Equal(t, 1, count)

	sess.Delete("last_expert")
	_, err = sess.Get("last_expert")
	assert.ErrorIs(t, err, ErrStateKeyNotExist)
}

func TestTurns(t *testing.T) {
	sess := newSession("s", time.Now())
	sess.AddTurn(RoleUser, "hi")
	sess.AddTurn(RoleAssistant, "hello")
	sess.AddTurn(RoleUser, "bye")

	assert.Len(t, sess.Turns(0), 3)
	last := sess.Turns(2)
	require.Len(t, last, 2)
	assert.Equal(t, "hello", last[0].Text)
	assert.Equal(t, RoleUser, last[1].Role)
}

func TestPendingAndBypass(t *testing.T) {
	sess := newSession("s", time.Now())
	_, ok := sess.Pending()
	assert.False(t, ok)

	sess.SetPending(PendingConfirmation{Message: "Delete all my experiences", Keyword: "delete"})
	p, ok := sess.Pending()
	require.True(t, ok)
	assert.Equal(t, "delete", p.Keyword)
	assert.False(t, p.CreatedAt.IsZero())

	taken, ok := sess.TakePending()
	require.True(t, ok)
	assert.Equal(t, "Delete all my experiences", taken.Message)
	_, ok = sess.TakePending()
	assert.False(t, ok)

	assert.False(t, sess.ConsumeBypass())
	sess.GrantBypass()
	assert.True(t, sess.ConsumeBypass())
	assert.False(t, sess.ConsumeBypass())
}

func TestConcurrentAccess(t *testing.T) {
	svc := InMemoryService(time.Minute)
	sess, err := svc.GetOrCreate(context.Background(), "shared")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.AddTurn(RoleUser, "x")
			_, _ = svc.GetOrCreate(context.Background(), "shared")
		}()
	}
	wg.Wait()
	assert.Len(t, sess.Turns(0), 20)
}
