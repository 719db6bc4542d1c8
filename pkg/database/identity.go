package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cypherlabs/cipher-score-api/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// UpsertUserNonce stores a fresh challenge nonce, creating the user on first
// contact. A previous outstanding nonce is overwritten.
func (db *DB) UpsertUserNonce(ctx context.Context, id, walletAddress, nonce string, expiry time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, wallet_address, tier, nonce, nonce_expiry)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_address) DO UPDATE
		SET nonce = EXCLUDED.nonce, nonce_expiry = EXCLUDED.nonce_expiry
	`, id, walletAddress, models.TierNormal, nonce, expiry)
	return err
}

// UserAuthByWallet loads a user with their pending nonce state.
func (db *DB) UserAuthByWallet(ctx context.Context, walletAddress string) (*models.User, error) {
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT id, wallet_address, name, tier, monthly_usage, nonce, nonce_expiry
		FROM users WHERE wallet_address = $1
	`, walletAddress).Scan(&user.ID, &user.WalletAddress, &user.Name, &user.Tier,
		&user.MonthlyUsage, &user.Nonce, &user.NonceExpiry)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateSessionClearNonce inserts a session and clears the user's nonce in
// one transaction.
func (db *DB) CreateSessionClearNonce(ctx context.Context, session *models.Session) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, session.ID, session.UserID, session.Token, session.ExpiresAt, session.IPAddress, session.UserAgent); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users SET nonce = NULL, nonce_expiry = NULL WHERE id = $1
	`, session.UserID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SessionWithUser resolves a bearer token to its session and owning user.
func (db *DB) SessionWithUser(ctx context.Context, token string) (*models.Session, *models.User, error) {
	var session models.Session
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT s.id, s.user_id, s.expires_at,
		       u.id, u.wallet_address, u.name, u.email, u.tier, u.monthly_usage, u.last_reset_at, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1
	`, token).Scan(&session.ID, &session.UserID, &session.ExpiresAt,
		&user.ID, &user.WalletAddress, &user.Name, &user.Email, &user.Tier,
		&user.MonthlyUsage, &user.LastResetAt, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &session, &user, nil
}

// DeleteSession removes a session; deleting an unknown id is a no-op.
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	return err
}

// ActiveKeyWithUser resolves a plaintext API key to its id and owning user.
// Inactive and unknown keys both come back as ErrNotFound.
func (db *DB) ActiveKeyWithUser(ctx context.Context, key string) (string, *models.User, error) {
	var keyID string
	var user models.User
	err := db.Pool.QueryRow(ctx, `
		SELECT k.id,
		       u.id, u.wallet_address, u.name, u.email, u.tier, u.monthly_usage, u.last_reset_at, u.created_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.key = $1 AND k.is_active = TRUE
	`, key).Scan(&keyID,
		&user.ID, &user.WalletAddress, &user.Name, &user.Email, &user.Tier,
		&user.MonthlyUsage, &user.LastResetAt, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	return keyID, &user, nil
}

// ResetUsageWindow zeroes the quota counter and opens a new rolling window.
func (db *DB) ResetUsageWindow(ctx context.Context, userID string, now time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE users SET monthly_usage = 0, last_reset_at = $1 WHERE id = $2
	`, now, userID)
	return err
}

// AppendKeyUsage records one traffic event.
func (db *DB) AppendKeyUsage(ctx context.Context, usage *models.ApiKeyUsage) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO api_key_usage (id, api_key_id, endpoint, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
	`, usage.ID, usage.ApiKeyID, usage.Endpoint, usage.IPAddress, usage.UserAgent)
	return err
}

// BumpKeyCounters advances the per-key lifetime counters.
func (db *DB) BumpKeyCounters(ctx context.Context, keyID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE api_keys SET usage_count = usage_count + 1, last_used = NOW() WHERE id = $1
	`, keyID)
	return err
}

// CountActiveKeys counts a user's active keys.
func (db *DB) CountActiveKeys(ctx context.Context, userID string) (int, error) {
	var active int
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND is_active = TRUE
	`, userID).Scan(&active)
	return active, err
}

// InsertAPIKey stores a new key and fills in its creation time.
func (db *DB) InsertAPIKey(ctx context.Context, key *models.ApiKey) error {
	return db.Pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, user_id, key, name)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, key.ID, key.UserID, key.Key, key.Name).Scan(&key.CreatedAt)
}

// KeysByUser returns every key the user owns, newest first.
func (db *DB) KeysByUser(ctx context.Context, userID string) ([]models.ApiKey, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, user_id, key, name, is_active, last_used, usage_count, created_at
		FROM api_keys WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []models.ApiKey{}
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Key, &k.Name, &k.IsActive, &k.LastUsed, &k.UsageCount, &k.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KeyByID returns one key scoped to its owner.
func (db *DB) KeyByID(ctx context.Context, userID, keyID string) (*models.ApiKey, error) {
	var k models.ApiKey
	err := db.Pool.QueryRow(ctx, `
		SELECT id, user_id, key, name, is_active, last_used, usage_count, created_at
		FROM api_keys WHERE id = $1 AND user_id = $2
	`, keyID, userID).Scan(&k.ID, &k.UserID, &k.Key, &k.Name, &k.IsActive, &k.LastUsed, &k.UsageCount, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// RecentKeyUsage returns the newest usage events for a key.
func (db *DB) RecentKeyUsage(ctx context.Context, keyID string, limit int) ([]models.ApiKeyUsage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, api_key_id, endpoint, ip_address, user_agent, timestamp
		FROM api_key_usage WHERE api_key_id = $1
		ORDER BY timestamp DESC LIMIT $2
	`, keyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.ApiKeyUsage{}
	for rows.Next() {
		var e models.ApiKeyUsage
		if err := rows.Scan(&e.ID, &e.ApiKeyID, &e.Endpoint, &e.IPAddress, &e.UserAgent, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RenameKey changes a key's display name, scoped to its owner.
func (db *DB) RenameKey(ctx context.Context, userID, keyID, name string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE api_keys SET name = $1 WHERE id = $2 AND user_id = $3
	`, name, keyID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateKey soft-deletes a key, scoped to its owner.
func (db *DB) DeactivateKey(ctx context.Context, userID, keyID string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE api_keys SET is_active = FALSE WHERE id = $1 AND user_id = $2
	`, keyID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// KeyAggregates returns the active key count and lifetime call total.
func (db *DB) KeyAggregates(ctx context.Context, userID string) (int, int64, error) {
	var active int
	var total int64
	err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE is_active), COALESCE(SUM(usage_count), 0)
		FROM api_keys WHERE user_id = $1
	`, userID).Scan(&active, &total)
	return active, total, err
}

// EndpointCount is one endpoint's call count over a stats window.
type EndpointCount struct {
	Endpoint string
	Calls    int64
}

// EndpointCallCounts aggregates traffic per endpoint across all of a user's
// keys since the given instant.
func (db *DB) EndpointCallCounts(ctx context.Context, userID string, since time.Time) ([]EndpointCount, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT u.endpoint, COUNT(*)
		FROM api_key_usage u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.user_id = $1 AND u.timestamp > $2
		GROUP BY u.endpoint
		ORDER BY COUNT(*) DESC
	`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []EndpointCount{}
	for rows.Next() {
		var c EndpointCount
		if err := rows.Scan(&c.Endpoint, &c.Calls); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// IncrementMonthlyUsage advances the quota counter by one.
func (db *DB) IncrementMonthlyUsage(ctx context.Context, userID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE users SET monthly_usage = monthly_usage + 1 WHERE id = $1
	`, userID)
	return err
}
