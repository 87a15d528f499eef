package pending

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewStore(10*time.Minute, clock), clock
}

func alice(otp string) Signup {
	return Signup{Email: "alice@x.com", OTP: otp, Name: "Alice", PasswordHash: "hash"}
}

func TestPutStampsExpiry(t *testing.T) {
	st, clock := newTestStore(t)
	got := st.Put(alice("4821"))
	assert.Equal(t, clock.Now().Add(10*time.Minute), got.ExpiresAt)

	stored, ok := st.Get("alice@x.com")
	require.True(t, ok)
	assert.Equal(t, got, stored)
}

func TestPutOverwrites(t *testing.T) {
	st, _ := newTestStore(t)
	st.Put(alice("1111"))
	second := alice("2222")
	second.Name = "Alice B"
	st.Put(second)

	assert.Equal(t, 1, st.Len())
	_, ok := st.Consume("alice@x.com", "1111")
	assert.False(t, ok, "overwritten code must not verify")

	s, ok := st.Consume("alice@x.com", "2222")
	require.True(t, ok)
	assert.Equal(t, "Alice B", s.Name)
}

func TestConsume(t *testing.T) {
	st, _ := newTestStore(t)
	st.Put(alice("4821"))

	_, ok := st.Consume("alice@x.com", "0000")
	assert.False(t, ok)
	assert.Equal(t, 1, st.Len(), "wrong code leaves entry")

	s, ok := st.Consume("alice@x.com", "4821")
	require.True(t, ok)
	assert.Equal(t, "Alice", s.Name)
	assert.Equal(t, "hash", s.PasswordHash)
	assert.Equal(t, 0, st.Len())

	_, ok = st.Consume("alice@x.com", "4821")
	assert.False(t, ok, "second consume must fail")
}

func TestConsumeUnknownEmail(t *testing.T) {
	st, _ := newTestStore(t)
	_, ok := st.Consume("nobody@x.com", "0000")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	st, clock := newTestStore(t)
	st.Put(alice("4821"))

	clock.Advance(10*time.Minute - time.Second)
	_, ok := st.Get("alice@x.com")
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = st.Consume("alice@x.com", "4821")
	assert.False(t, ok)
	assert.Equal(t, 0, st.Len(), "expired entry removed on access")
}

func TestReissue(t *testing.T) {
	st, clock := newTestStore(t)
	st.Put(alice("1111"))
	clock.Advance(5 * time.Minute)

	s, ok := st.Reissue("alice@x.com", "2222")
	require.True(t, ok)
	assert.Equal(t, "2222", s.OTP)
	assert.Equal(t, "Alice", s.Name)
	assert.Equal(t, clock.Now().Add(10*time.Minute), s.ExpiresAt)

	_, ok = st.Consume("alice@x.com", "1111")
	assert.False(t, ok)

	_, ok = st.Reissue("nobody@x.com", "3333")
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	st, _ := newTestStore(t)
	st.Put(alice("4821"))
	s, ok := st.Consume("alice@x.com", "4821")
	require.True(t, ok)

	assert.True(t, st.Restore(s))
	_, ok = st.Consume("alice@x.com", "4821")
	assert.True(t, ok, "restored entry verifies again")
}

func TestRestoreKeepsNewerEntry(t *testing.T) {
	st, _ := newTestStore(t)
	st.Put(alice("1111"))
	old, ok := st.Consume("alice@x.com", "1111")
	require.True(t, ok)

	st.Put(alice("2222"))
	assert.False(t, st.Restore(old))

	got, ok := st.Get("alice@x.com")
	require.True(t, ok)
	assert.Equal(t, "2222", got.OTP)
}

func TestDiscard(t *testing.T) {
	st, _ := newTestStore(t)
	st.Put(alice("1111"))
	assert.False(t, st.Discard("alice@x.com", "2222"))
	assert.Equal(t, 1, st.Len())
	assert.True(t, st.Discard("alice@x.com", "1111"))
	assert.Equal(t, 0, st.Len())
}

func TestSweep(t *testing.T) {
	st, clock := newTestStore(t)
	st.Put(alice("1111"))
	clock.Advance(6 * time.Minute)
	st.Put(Signup{Email: "bob@x.com", OTP: "2222"})
	clock.Advance(5 * time.Minute)

	assert.Equal(t, 1, st.Sweep())
	assert.Equal(t, 1, st.Len())
	_, ok := st.Get("bob@x.com")
	assert.True(t, ok)
}

func TestRunSweepsOnTick(t *testing.T) {
	st, clock := newTestStore(t)
	st.Put(alice("1111"))

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- st.Run(ctx, time.Minute, func(n int) { swept <- n })
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(11 * time.Minute)

	select {
	case n := <-swept:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not sweep")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	st, _ := newTestStore(t)
	st.Put(alice("4821"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := st.Consume("alice@x.com", "4821"); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
