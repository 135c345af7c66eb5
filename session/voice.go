package session

import (
	"errors"

	"github.com/jmcleod/sessionsync/bus"
)

// ErrNotAuthenticated is returned when a voice is recorded without a session.
var ErrNotAuthenticated = errors.New("not authenticated")

// VoiceSlot holds the tab's uploaded voice reference.
type VoiceSlot struct {
	store  *CredentialStore
	bus    *bus.Bus
	engine *Engine
}

// NewVoiceSlot creates a VoiceSlot.
func NewVoiceSlot(store *CredentialStore, b *bus.Bus, engine *Engine) *VoiceSlot {
	return &VoiceSlot{store: store, bus: b, engine: engine}
}

// Record stores ref and announces it. A reference cannot exist without a
// session.
func (v *VoiceSlot) Record(ref VoiceReference) error {
	if v.engine.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}
	if err := v.store.WriteVoice(ref); err != nil {
		return err
	}
	v.bus.Broadcast(bus.VoiceUploaded, ref)
	return nil
}

// Remove drops the reference and announces the removal.
func (v *VoiceSlot) Remove() error {
	if err := v.store.ClearVoice(); err != nil {
		return err
	}
	v.bus.Broadcast(bus.VoiceRemoved, nil)
	return nil
}

// Current returns the recorded reference, if any.
func (v *VoiceSlot) Current() (VoiceReference, bool) {
	return v.store.ReadVoice()
}
