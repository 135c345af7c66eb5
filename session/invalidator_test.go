package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionsync/bus"
)

func TestInvalidatorClearsVoiceBeforeHandlers(t *testing.T) {
	f := newFixture(t)
	tab, _ := f.openTab(t)
	require.True(t, tab.Engine.Login(t.Context(), "a@b.com", "admin123").OK())
	require.NoError(t, tab.Voice.Record(VoiceReference{Path: "/v/a.wav", DisplayName: "a.wav"}))

	var calls int
	var sawStale bool
	tab.Invalidator.OnLogoutOrRemoval(func() {
		calls++
		if _, ok := tab.Store.ReadVoice(); ok {
			sawStale = true
		}
	})

	tab.Engine.Logout()
	assert.Positive(t, calls)
	assert.False(t, sawStale, "handlers must never observe a stale voice reference")
}

func TestInvalidatorOnVoiceRemoved(t *testing.T) {
	f := newFixture(t)
	tab, _ := f.openTab(t)
	require.NoError(t, tab.Engine.AdoptToken("T1"))
	require.NoError(t, tab.Voice.Record(VoiceReference{Path: "/v/a.wav", DisplayName: "a.wav"}))

	var calls int
	tab.Invalidator.OnLogoutOrRemoval(func() { calls++ })

	require.NoError(t, tab.Voice.Remove())
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateAuthenticated, tab.Engine.State(), "removing a voice does not end the session")
}

func TestInvalidatorIgnoresLoginTransitions(t *testing.T) {
	f := newFixture(t)
	tab, _ := f.openTab(t)

	var calls int
	tab.Invalidator.OnLogoutOrRemoval(func() { calls++ })

	tab.Engine.Login(t.Context(), "a@b.com", "wrong")
	assert.Zero(t, calls, "Authenticating to Unauthenticated is not a logout")

	require.True(t, tab.Engine.Login(t.Context(), "a@b.com", "admin123").OK())
	assert.Zero(t, calls)
}

func TestInvalidatorFiresInOtherTabOnLogout(t *testing.T) {
	f := newFixture(t)
	a, _ := f.openTab(t)
	b, _ := f.openTab(t)
	require.True(t, a.Engine.Login(t.Context(), "a@b.com", "admin123").OK())
	require.Eventually(t, func() bool { return b.Engine.State() == StateAuthenticated }, time.Second, 5*time.Millisecond)

	var calls atomic.Int32
	b.Invalidator.OnLogoutOrRemoval(func() { calls.Add(1) })

	a.Engine.Logout()
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, 5*time.Millisecond)
}

func TestInvalidatorCancelAndClose(t *testing.T) {
	f := newFixture(t)
	tab, _ := f.openTab(t)

	var calls int
	cancel := tab.Invalidator.OnLogoutOrRemoval(func() { calls++ })
	cancel()
	tab.Bus.Broadcast(bus.VoiceRemoved, nil)
	assert.Zero(t, calls)

	tab.Invalidator.OnLogoutOrRemoval(func() { calls++ })
	tab.Invalidator.Close()
	tab.Bus.Broadcast(bus.VoiceRemoved, nil)
	assert.Zero(t, calls)
}

func TestVoiceSlot(t *testing.T) {
	f := newFixture(t)
	tab, _ := f.openTab(t)

	err := tab.Voice.Record(VoiceReference{Path: "/v/a.wav"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, tab.Engine.AdoptToken("T1"))

	var uploaded bus.Signal
	tab.Bus.OnBroadcast(bus.VoiceUploaded, func(s bus.Signal) { uploaded = s })

	ref := VoiceReference{Path: "/v/a.wav", DisplayName: "a.wav"}
	require.NoError(t, tab.Voice.Record(ref))
	assert.Equal(t, ref, uploaded.Payload)

	got, ok := tab.Voice.Current()
	require.True(t, ok)
	assert.Equal(t, ref, got)

	require.NoError(t, tab.Voice.Remove())
	_, ok = tab.Voice.Current()
	assert.False(t, ok)
}
