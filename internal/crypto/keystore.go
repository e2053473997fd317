package crypto

import "sync"

// MasterKeyProvider is the external collaborator contract spec.md §6
// names: GetMasterKey may prompt a user out of band and may fail if
// auth fails. The engine holds the key only for the request's lifetime
// when requireAuthOnAccess is set; otherwise it caches for the session.
type MasterKeyProvider interface {
	GetMasterKey(requireAuth bool) (string, error)
}

// StaticKeyProvider is a trivial in-memory MasterKeyProvider for tests
// and embedders that already hold the key (e.g. from their own secure
// storage), standing in for the biometric/keystore collaborator spec.md
// §1 places out of scope.
type StaticKeyProvider struct {
	mu  sync.RWMutex
	key string
}

func NewStaticKeyProvider(key string) *StaticKeyProvider {
	return &StaticKeyProvider{key: key}
}

func (p *StaticKeyProvider) GetMasterKey(requireAuth bool) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.key, nil
}

func (p *StaticKeyProvider) SetMasterKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.key = key
}

// SessionKeyHolder caches a master key for the session unless
// requireAuthOnAccess forces a fresh fetch each time (spec.md §4.11).
type SessionKeyHolder struct {
	provider            MasterKeyProvider
	requireAuthOnAccess bool

	mu     sync.Mutex
	cached string
	have   bool
}

func NewSessionKeyHolder(provider MasterKeyProvider, requireAuthOnAccess bool) *SessionKeyHolder {
	return &SessionKeyHolder{provider: provider, requireAuthOnAccess: requireAuthOnAccess}
}

func (h *SessionKeyHolder) Key() (string, error) {
	if h.requireAuthOnAccess {
		return h.provider.GetMasterKey(true)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.have {
		return h.cached, nil
	}
	key, err := h.provider.GetMasterKey(false)
	if err != nil {
		return "", err
	}
	h.cached = key
	h.have = true
	return key, nil
}
