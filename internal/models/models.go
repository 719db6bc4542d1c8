package models

import (
	"time"
)

// User is the identity anchored by a wallet address. The pending nonce is
// single-use: it is cleared the moment a signature verifies against it.
type User struct {
	ID            string     `json:"id" db:"id"`
	WalletAddress string     `json:"wallet_address" db:"wallet_address"`
	Name          *string    `json:"name,omitempty" db:"name"`
	Email         *string    `json:"email,omitempty" db:"email"`
	Tier          Tier       `json:"tier" db:"tier"`
	MonthlyUsage  int        `json:"monthly_usage" db:"monthly_usage"`
	LastResetAt   time.Time  `json:"last_reset_at" db:"last_reset_at"`
	Nonce         *string    `json:"-" db:"nonce"`
	NonceExpiry   *time.Time `json:"-" db:"nonce_expiry"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Session is an opaque bearer token bound to one user. Valid iff the record
// still exists and now < ExpiresAt; expired records are deleted lazily on
// first access.
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Token     string    `json:"-" db:"token"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ApiKey is never shown in plaintext after creation; only a masked preview.
// Deactivation is a soft delete so usage history survives.
type ApiKey struct {
	ID         string     `json:"id" db:"id"`
	UserID     string     `json:"user_id" db:"user_id"`
	Key        string     `json:"-" db:"key"`
	Name       string     `json:"name" db:"name"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	LastUsed   *time.Time `json:"last_used" db:"last_used"`
	UsageCount int64      `json:"usage_count" db:"usage_count"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// ApiKeyUsage is an append-only traffic event, recorded for every authorized
// call regardless of downstream success.
type ApiKeyUsage struct {
	ID        string    `json:"id" db:"id"`
	ApiKeyID  string    `json:"api_key_id" db:"api_key_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	IPAddress *string   `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string   `json:"user_agent,omitempty" db:"user_agent"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// UserSummary is the sanitized user shape returned by auth responses.
type UserSummary struct {
	ID            string  `json:"id"`
	WalletAddress string  `json:"walletAddress"`
	Name          *string `json:"name"`
	Tier          Tier    `json:"tier"`
	MonthlyLimit  int     `json:"monthlyLimit"`
	MonthlyUsage  int     `json:"monthlyUsage"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:            u.ID,
		WalletAddress: u.WalletAddress,
		Name:          u.Name,
		Tier:          u.Tier,
		MonthlyLimit:  u.Tier.MonthlyLimit(),
		MonthlyUsage:  u.MonthlyUsage,
	}
}
