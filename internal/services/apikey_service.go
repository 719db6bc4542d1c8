package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cypherlabs/cipher-score-api/internal/models"
	"github.com/cypherlabs/cipher-score-api/pkg/database"
	"github.com/cypherlabs/cipher-score-api/pkg/walletauth"
)

const (
	maxActiveKeys = 5
	usageWindow   = 30 * 24 * time.Hour
)

// APIKeyStore is the persistence surface of key management and quota
// accounting.
type APIKeyStore interface {
	ActiveKeyWithUser(ctx context.Context, key string) (string, *models.User, error)
	ResetUsageWindow(ctx context.Context, userID string, now time.Time) error
	AppendKeyUsage(ctx context.Context, usage *models.ApiKeyUsage) error
	BumpKeyCounters(ctx context.Context, keyID string) error
	CountActiveKeys(ctx context.Context, userID string) (int, error)
	InsertAPIKey(ctx context.Context, key *models.ApiKey) error
	KeysByUser(ctx context.Context, userID string) ([]models.ApiKey, error)
	KeyByID(ctx context.Context, userID, keyID string) (*models.ApiKey, error)
	RecentKeyUsage(ctx context.Context, keyID string, limit int) ([]models.ApiKeyUsage, error)
	RenameKey(ctx context.Context, userID, keyID, name string) error
	DeactivateKey(ctx context.Context, userID, keyID string) error
	KeyAggregates(ctx context.Context, userID string) (int, int64, error)
	EndpointCallCounts(ctx context.Context, userID string, since time.Time) ([]database.EndpointCount, error)
}

// ApiKeyService manages programmatic credentials and the per-user rolling
// usage quota.
type ApiKeyService struct {
	store APIKeyStore
}

func NewApiKeyService(store APIKeyStore) *ApiKeyService {
	return &ApiKeyService{store: store}
}

// KeyIdentity is the resolved caller of an API-key request.
type KeyIdentity struct {
	User     models.User
	ApiKeyID string
}

// usageWindowExpired reports whether a rolling usage window opened at
// lastReset has fully elapsed.
func usageWindowExpired(lastReset, now time.Time) bool {
	return now.Sub(lastReset) >= usageWindow
}

// resetDateFor gives the instant the current usage window rolls over.
func resetDateFor(lastReset time.Time) time.Time {
	return lastReset.Add(usageWindow)
}

// MaskKey renders a stored key as its persistent preview. Plaintext keys are
// only ever returned by Create.
func MaskKey(key string) string {
	const prefix = "cypher_"
	body := strings.TrimPrefix(key, prefix)
	if len(body) < 16 {
		return prefix + "..."
	}
	return prefix + body[:8] + "..." + body[len(body)-8:]
}

// Validate resolves a plaintext key to its owner and enforces the tier quota.
// An elapsed 30-day window is reset in place before the check, so quota state
// never needs a background job. Failure modes are ErrInvalidToken for an
// unknown or inactive key and *QuotaExceededError when the window is full.
func (s *ApiKeyService) Validate(ctx context.Context, key string) (*KeyIdentity, error) {
	if key == "" {
		return nil, ErrMissingToken
	}

	keyID, user, err := s.store.ActiveKeyWithUser(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if usageWindowExpired(user.LastResetAt, now) {
		if err := s.store.ResetUsageWindow(ctx, user.ID, now); err != nil {
			return nil, err
		}
		user.MonthlyUsage = 0
		user.LastResetAt = now
	}

	limit := user.Tier.MonthlyLimit()
	if user.MonthlyUsage >= limit {
		return nil, &QuotaExceededError{
			Tier:      user.Tier,
			Usage:     user.MonthlyUsage,
			Limit:     limit,
			ResetDate: resetDateFor(user.LastResetAt),
		}
	}

	return &KeyIdentity{User: *user, ApiKeyID: keyID}, nil
}

// RecordUsage appends a traffic event and bumps the key counters. Failures
// are logged and swallowed; accounting must never fail a request that already
// passed validation.
func (s *ApiKeyService) RecordUsage(ctx context.Context, apiKeyID, endpoint, ipAddress, userAgent string) {
	usage := &models.ApiKeyUsage{
		ID:        uuid.NewString(),
		ApiKeyID:  apiKeyID,
		Endpoint:  endpoint,
		IPAddress: &ipAddress,
		UserAgent: &userAgent,
	}
	if err := s.store.AppendKeyUsage(ctx, usage); err != nil {
		log.Warn().Err(err).Str("api_key_id", apiKeyID).Msg("Failed to record API key usage")
	}
	if err := s.store.BumpKeyCounters(ctx, apiKeyID); err != nil {
		log.Warn().Err(err).Str("api_key_id", apiKeyID).Msg("Failed to update API key counters")
	}
}

// CreatedKey carries the one-time plaintext alongside the stored record.
type CreatedKey struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Create mints a new key. The plaintext is returned here and nowhere else.
func (s *ApiKeyService) Create(ctx context.Context, userID, name string) (*CreatedKey, error) {
	active, err := s.store.CountActiveKeys(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active >= maxActiveKeys {
		return nil, ErrTooManyKeys
	}

	key := &models.ApiKey{
		ID:     uuid.NewString(),
		UserID: userID,
		Key:    walletauth.GenerateAPIKey(),
		Name:   name,
	}
	if err := s.store.InsertAPIKey(ctx, key); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Str("key_id", key.ID).Msg("API key created")
	return &CreatedKey{ID: key.ID, Key: key.Key, Name: key.Name, CreatedAt: key.CreatedAt}, nil
}

// KeySummary is the dashboard listing shape: preview only, never plaintext.
type KeySummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPreview string     `json:"keyPreview"`
	IsActive   bool       `json:"isActive"`
	LastUsed   *time.Time `json:"lastUsed"`
	UsageCount int64      `json:"usageCount"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func summarize(k *models.ApiKey) KeySummary {
	return KeySummary{
		ID:         k.ID,
		Name:       k.Name,
		KeyPreview: MaskKey(k.Key),
		IsActive:   k.IsActive,
		LastUsed:   k.LastUsed,
		UsageCount: k.UsageCount,
		CreatedAt:  k.CreatedAt,
	}
}

// List returns every key the user owns, active or not, newest first.
func (s *ApiKeyService) List(ctx context.Context, userID string) ([]KeySummary, error) {
	keys, err := s.store.KeysByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]KeySummary, 0, len(keys))
	for i := range keys {
		summaries = append(summaries, summarize(&keys[i]))
	}
	return summaries, nil
}

// KeyDetail adds recent traffic to the summary shape.
type KeyDetail struct {
	KeySummary
	RecentUsage []UsageEvent `json:"recentUsage"`
}

// UsageEvent is one recorded call with the client IP partially redacted.
type UsageEvent struct {
	Endpoint  string    `json:"endpoint"`
	IPAddress string    `json:"ipAddress"`
	Timestamp time.Time `json:"timestamp"`
}

// Get returns one key with its last 20 usage events, scoped to the owner.
func (s *ApiKeyService) Get(ctx context.Context, userID, keyID string) (*KeyDetail, error) {
	key, err := s.store.KeyByID(ctx, userID, keyID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	events, err := s.store.RecentKeyUsage(ctx, keyID, 20)
	if err != nil {
		return nil, err
	}

	detail := &KeyDetail{KeySummary: summarize(key), RecentUsage: []UsageEvent{}}
	for _, e := range events {
		detail.RecentUsage = append(detail.RecentUsage, UsageEvent{
			Endpoint:  e.Endpoint,
			IPAddress: redactIP(e.IPAddress),
			Timestamp: e.Timestamp,
		})
	}
	return detail, nil
}

// redactIP keeps the first two octets of an IPv4 address; anything else is
// hidden entirely.
func redactIP(ip *string) string {
	if ip == nil || *ip == "" {
		return "hidden"
	}
	parts := strings.Split(*ip, ".")
	if len(parts) != 4 {
		return "hidden"
	}
	return parts[0] + "." + parts[1] + ".x.x"
}

// Rename changes the display name of an owned key.
func (s *ApiKeyService) Rename(ctx context.Context, userID, keyID, name string) error {
	err := s.store.RenameKey(ctx, userID, keyID, name)
	if errors.Is(err, database.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}

// Deactivate soft-deletes a key. The row and its usage history remain.
func (s *ApiKeyService) Deactivate(ctx context.Context, userID, keyID string) error {
	err := s.store.DeactivateKey(ctx, userID, keyID)
	if errors.Is(err, database.ErrNotFound) {
		return ErrKeyNotFound
	}
	return err
}

// UsageStats aggregates quota state and traffic for the dashboard.
type UsageStats struct {
	Tier         models.Tier     `json:"tier"`
	MonthlyUsage int             `json:"monthlyUsage"`
	MonthlyLimit int             `json:"monthlyLimit"`
	ResetDate    time.Time       `json:"resetDate"`
	ActiveKeys   int             `json:"activeKeys"`
	TotalCalls   int64           `json:"totalCalls"`
	ByEndpoint   []EndpointCalls `json:"byEndpoint"`
}

// EndpointCalls is the call count for one endpoint over the stats window.
type EndpointCalls struct {
	Endpoint string `json:"endpoint"`
	Calls    int64  `json:"calls"`
}

// Stats reports quota state plus per-endpoint traffic over the last 30 days
// across all of the user's keys.
func (s *ApiKeyService) Stats(ctx context.Context, user *models.User) (*UsageStats, error) {
	stats := &UsageStats{
		Tier:         user.Tier,
		MonthlyUsage: user.MonthlyUsage,
		MonthlyLimit: user.Tier.MonthlyLimit(),
		ResetDate:    resetDateFor(user.LastResetAt),
	}

	active, total, err := s.store.KeyAggregates(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	stats.ActiveKeys = active
	stats.TotalCalls = total

	counts, err := s.store.EndpointCallCounts(ctx, user.ID, time.Now().Add(-usageWindow))
	if err != nil {
		return nil, err
	}
	stats.ByEndpoint = make([]EndpointCalls, 0, len(counts))
	for _, c := range counts {
		stats.ByEndpoint = append(stats.ByEndpoint, EndpointCalls{Endpoint: c.Endpoint, Calls: c.Calls})
	}
	return stats, nil
}
