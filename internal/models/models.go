package models

import (
	"time"
)

// Site is the metadata record stored in the KV store under "{brand}/{name}".
type Site struct {
	PasswordHash string            `json:"password_hash"`
	Title        string            `json:"title"`
	Brand        string            `json:"brand"`
	HMACSecret   string            `json:"hmac_secret"`
	BrandTokens  map[string]string `json:"brand_tokens,omitempty"`
	Created      string            `json:"created"`
}

// AdminKey is stored under "_admin:{sha256(token)}".
type AdminKey struct {
	Label   string `json:"label"`
	Created string `json:"created"`
}

// KVEntry backs the Postgres implementation of the KV store.
type KVEntry struct {
	Key       string     `gorm:"primaryKey;type:varchar(512);not null"`
	Value     []byte     `gorm:"type:bytea;not null"`
	ExpiresAt *time.Time `gorm:"index"`
	UpdatedAt time.Time  `gorm:"not null"`
}

type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	RequestID string    `gorm:"type:varchar(36);index"`
	Host      string    `gorm:"type:varchar(255);not null;index"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	UserAgent string `gorm:"type:text"`
	BytesSent int    `gorm:"not null;default:0"`
}

func (KVEntry) TableName() string {
	return "kv_entries"
}

func (AccessLog) TableName() string {
	return "access_logs"
}
