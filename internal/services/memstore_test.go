package services

import (
	"context"
	"sort"
	"time"

	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/pkg/database"
)

// memStore is an in-memory stand-in for the postgres store, keyed the same
// way: users by id, sessions and keys by their own ids.
type memStore struct {
	users    map[string]*models.User
	sessions map[string]*models.Session
	keys     map[string]*models.ApiKey
	usage    []models.ApiKeyUsage
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
		keys:     make(map[string]*models.ApiKey),
	}
}

func (m *memStore) userByWallet(walletAddress string) *models.User {
	for _, u := range m.users {
		if u.WalletAddress == walletAddress {
			return u
		}
	}
	return nil
}

func (m *memStore) UpsertUserNonce(ctx context.Context, id, walletAddress, nonce string, expiry time.Time) error {
	user := m.userByWallet(walletAddress)
	if user == nil {
		user = &models.User{
			ID:            id,
			WalletAddress: walletAddress,
			Tier:          models.TierNormal,
			LastResetAt:   time.Now(),
			CreatedAt:     time.Now(),
		}
		m.users[id] = user
	}
	user.Nonce = &nonce
	user.NonceExpiry = &expiry
	return nil
}

func (m *memStore) UserAuthByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	user := m.userByWallet(walletAddress)
	if user == nil {
		return nil, database.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *memStore) CreateSessionClearNonce(ctx context.Context, session *models.Session) error {
	stored := *session
	m.sessions[session.ID] = &stored
	if user, ok := m.users[session.UserID]; ok {
		user.Nonce = nil
		user.NonceExpiry = nil
	}
	return nil
}

func (m *memStore) SessionWithUser(ctx context.Context, token string) (*models.Session, *models.User, error) {
	for _, s := range m.sessions {
		if s.Token == token {
			session := *s
			user := *m.users[s.UserID]
			return &session, &user, nil
		}
	}
	return nil, nil, database.ErrNotFound
}

func (m *memStore) DeleteSession(ctx context.Context, sessionID string) error {
	delete(m.sessions, sessionID)
	return nil
}

func (m *memStore) ActiveKeyWithUser(ctx context.Context, key string) (string, *models.User, error) {
	for _, k := range m.keys {
		if k.Key == key && k.IsActive {
			user := *m.users[k.UserID]
			return k.ID, &user, nil
		}
	}
	return "", nil, database.ErrNotFound
}

func (m *memStore) ResetUsageWindow(ctx context.Context, userID string, now time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.MonthlyUsage = 0
		user.LastResetAt = now
	}
	return nil
}

func (m *memStore) AppendKeyUsage(ctx context.Context, usage *models.ApiKeyUsage) error {
	stored := *usage
	stored.Timestamp = time.Now()
	m.usage = append(m.usage, stored)
	return nil
}

func (m *memStore) BumpKeyCounters(ctx context.Context, keyID string) error {
	if k, ok := m.keys[keyID]; ok {
		k.UsageCount++
		now := time.Now()
		k.LastUsed = &now
	}
	return nil
}

func (m *memStore) CountActiveKeys(ctx context.Context, userID string) (int, error) {
	active := 0
	for _, k := range m.keys {
		if k.UserID == userID && k.IsActive {
			active++
		}
	}
	return active, nil
}

func (m *memStore) InsertAPIKey(ctx context.Context, key *models.ApiKey) error {
	key.IsActive = true
	key.CreatedAt = time.Now()
	stored := *key
	m.keys[key.ID] = &stored
	return nil
}

func (m *memStore) KeysByUser(ctx context.Context, userID string) ([]models.ApiKey, error) {
	keys := []models.ApiKey{}
	for _, k := range m.keys {
		if k.UserID == userID {
			keys = append(keys, *k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (m *memStore) KeyByID(ctx context.Context, userID, keyID string) (*models.ApiKey, error) {
	if k, ok := m.keys[keyID]; ok && k.UserID == userID {
		copied := *k
		return &copied, nil
	}
	return nil, database.ErrNotFound
}

func (m *memStore) RecentKeyUsage(ctx context.Context, keyID string, limit int) ([]models.ApiKeyUsage, error) {
	events := []models.ApiKeyUsage{}
	for i := len(m.usage) - 1; i >= 0 && len(events) < limit; i-- {
		if m.usage[i].ApiKeyID == keyID {
			events = append(events, m.usage[i])
		}
	}
	return events, nil
}

func (m *memStore) RenameKey(ctx context.Context, userID, keyID, name string) error {
	if k, ok := m.keys[keyID]; ok && k.UserID == userID {
		k.Name = name
		return nil
	}
	return database.ErrNotFound
}

func (m *memStore) DeactivateKey(ctx context.Context, userID, keyID string) error {
	if k, ok := m.keys[keyID]; ok && k.UserID == userID {
		k.IsActive = false
		return nil
	}
	return database.ErrNotFound
}

func (m *memStore) KeyAggregates(ctx context.Context, userID string) (int, int64, error) {
	active := 0
	var total int64
	for _, k := range m.keys {
		if k.UserID != userID {
			continue
		}
		if k.IsActive {
			active++
		}
		total += k.UsageCount
	}
	return active, total, nil
}

func (m *memStore) EndpointCallCounts(ctx context.Context, userID string, since time.Time) ([]database.EndpointCount, error) {
	byEndpoint := map[string]int64{}
	for _, e := range m.usage {
		key, ok := m.keys[e.ApiKeyID]
		if !ok || key.UserID != userID || !e.Timestamp.After(since) {
			continue
		}
		byEndpoint[e.Endpoint]++
	}
	counts := []database.EndpointCount{}
	for endpoint, calls := range byEndpoint {
		counts = append(counts, database.EndpointCount{Endpoint: endpoint, Calls: calls})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Calls > counts[j].Calls })
	return counts, nil
}

func (m *memStore) IncrementMonthlyUsage(ctx context.Context, userID string) error {
	if user, ok := m.users[userID]; ok {
		user.MonthlyUsage++
	}
	return nil
}
