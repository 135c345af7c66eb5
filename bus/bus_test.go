package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastIsSynchronousAndOrdered(t *testing.T) {
	b := New()
	defer b.Close()

	var got []string
	b.OnBroadcast(VoiceRemoved, func(s Signal) { got = append(got, "first") })
	b.OnBroadcast(VoiceRemoved, func(s Signal) { got = append(got, "second") })
	b.OnBroadcast(VoiceUploaded, func(s Signal) { got = append(got, "other-kind") })

	b.Broadcast(VoiceRemoved, nil)
	assert.Equal(t, []string{"first", "second"}, got)
}

func TestBroadcastPayload(t *testing.T) {
	b := New()
	defer b.Close()

	var sig Signal
	b.OnBroadcast(VoiceUploaded, func(s Signal) { sig = s })
	b.Broadcast(VoiceUploaded, "/v/a.wav")

	assert.Equal(t, VoiceUploaded, sig.Kind)
	assert.Equal(t, "/v/a.wav", sig.Payload)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	var calls int
	cancel := b.OnBroadcast(AuthRefresh, func(Signal) { calls++ })
	b.Broadcast(AuthRefresh, nil)
	cancel()
	b.Broadcast(AuthRefresh, nil)
	assert.Equal(t, 1, calls)

	var focus int
	cancelFocus := b.OnFocusRegained(func() { focus++ })
	b.FocusRegained()
	cancelFocus()
	b.FocusRegained()
	assert.Equal(t, 1, focus)
}

func TestExternalChangeDeliveredAsynchronously(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var keys []string
	b.OnExternalChange(func(key string) {
		mu.Lock()
		keys = append(keys, key)
		mu.Unlock()
	})

	b.DeliverExternalChange("auth_token")
	b.DeliverExternalChange("")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"auth_token", ""}, keys)
	mu.Unlock()
}

func TestClosedBusDropsExternalChanges(t *testing.T) {
	b := New()
	var calls atomic.Int32
	b.OnExternalChange(func(string) { calls.Add(1) })
	b.Close()
	b.Close()

	b.DeliverExternalChange("auth_token")
	assert.Never(t, func() bool { return calls.Load() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestHubSkipsOrigin(t *testing.T) {
	hub := NewHub()
	a, b := New(), New()
	defer a.Close()
	defer b.Close()
	hub.Attach("a", a)
	detachB := hub.Attach("b", b)
	require.Equal(t, 2, hub.Tabs())

	var aCalls, bCalls atomic.Int32
	a.OnExternalChange(func(string) { aCalls.Add(1) })
	b.OnExternalChange(func(string) { bCalls.Add(1) })

	hub.Publish("a", "auth_token")
	require.Eventually(t, func() bool { return bCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return aCalls.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	hub.Publish("", "")
	require.Eventually(t, func() bool { return aCalls.Load() == 1 && bCalls.Load() == 2 }, time.Second, 5*time.Millisecond)

	detachB()
	assert.Equal(t, 1, hub.Tabs())
}

func TestHandlerMayPublishBack(t *testing.T) {
	hub := NewHub()
	a, b := New(), New()
	defer a.Close()
	defer b.Close()
	hub.Attach("a", a)
	hub.Attach("b", b)

	var aCalls atomic.Int32
	a.OnExternalChange(func(string) { aCalls.Add(1) })
	b.OnExternalChange(func(key string) {
		hub.Publish("b", "voice_path")
	})

	hub.Publish("a", "auth_token")
	require.Eventually(t, func() bool { return aCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
}
