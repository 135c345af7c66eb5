package session

import (
	"errors"
	"log/slog"

	"github.com/jmcleod/sessionsync/storage"
)

// Durable keys shared by every tab of a profile.
const (
	KeyAuthToken     = "auth_token"
	KeyVoicePath     = "voice_path"
	KeyVoiceFileName = "voice_file_name"
)

// VoiceReference points at a voice sample uploaded by the logged-in user.
// It must not outlive the session that uploaded it.
type VoiceReference struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
}

// CredentialStore is a tab's view of the durable token, the flag cookie and
// the voice reference.
type CredentialStore struct {
	backend storage.Backend
	flag    *CookieFlag
	logger  *slog.Logger

	// onMutate is told which key changed; "" means several keys at once.
	onMutate func(key string)
}

// NewCredentialStore creates a store over backend and flag. onMutate may be nil.
func NewCredentialStore(backend storage.Backend, flag *CookieFlag, onMutate func(key string), logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	if onMutate == nil {
		onMutate = func(string) {}
	}
	return &CredentialStore{
		backend:  backend,
		flag:     flag,
		logger:   logger.With("component", "credential-store"),
		onMutate: onMutate,
	}
}

// WriteToken persists token and sets the flag cookie.
func (s *CredentialStore) WriteToken(token string) error {
	if err := s.backend.Put(KeyAuthToken, token); err != nil {
		return err
	}
	s.flag.Set()
	s.onMutate(KeyAuthToken)
	return nil
}

// ReadToken returns the persisted token. A backend failure reads as absent.
func (s *CredentialStore) ReadToken() (string, bool) {
	return s.read(KeyAuthToken)
}

// ReadAuthenticatedFlag reports the flag cookie.
func (s *CredentialStore) ReadAuthenticatedFlag() bool {
	return s.flag.Get()
}

// Clear removes the token and the voice reference and expires the flag.
// The flag goes first so that a tab reacting to the storage change never
// finds it still set.
func (s *CredentialStore) Clear() error {
	s.flag.Clear()
	err := s.backend.Batch(func(tx storage.BatchTx) error {
		for _, k := range []string{KeyAuthToken, KeyVoicePath, KeyVoiceFileName} {
			if err := tx.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	s.onMutate("")
	return err
}

// WriteVoice records ref.
func (s *CredentialStore) WriteVoice(ref VoiceReference) error {
	err := s.backend.Batch(func(tx storage.BatchTx) error {
		if err := tx.Put(KeyVoicePath, ref.Path); err != nil {
			return err
		}
		return tx.Put(KeyVoiceFileName, ref.DisplayName)
	})
	if err != nil {
		return err
	}
	s.onMutate(KeyVoicePath)
	return nil
}

// ReadVoice returns the recorded voice reference, if any.
func (s *CredentialStore) ReadVoice() (VoiceReference, bool) {
	path, ok := s.read(KeyVoicePath)
	if !ok {
		return VoiceReference{}, false
	}
	name, _ := s.read(KeyVoiceFileName)
	return VoiceReference{Path: path, DisplayName: name}, true
}

// ClearVoice removes the voice reference.
func (s *CredentialStore) ClearVoice() error {
	err := s.backend.Batch(func(tx storage.BatchTx) error {
		if err := tx.Delete(KeyVoicePath); err != nil {
			return err
		}
		return tx.Delete(KeyVoiceFileName)
	})
	if err != nil {
		return err
	}
	s.onMutate(KeyVoicePath)
	return nil
}

func (s *CredentialStore) read(key string) (string, bool) {
	v, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("reading durable storage", "key", key, "error", err)
		}
		return "", false
	}
	return v, v != ""
}
