// Package model はドメインモデルを定義する。
package model

import "time"

// User はGoogle OAuthで認証されたユーザーを表す。
// GoogleIDはGoogleのsubjectクレームに対応し、一意かつ不変。
// 内部IDは初回ログイン時にDBで採番される。
type User struct {
	ID             int64
	GoogleID       string
	Email          string
	Name           string
	ProfilePicture string
	CreatedAt      time.Time
	LastLogin      time.Time
}

// Session はユーザーのログインセッションを表す。
// IDはCookieで保持される不透明なトークン。
// ExpiresAtを過ぎたセッションは存在しないものとして扱う。
type Session struct {
	ID         string
	UserID     int64
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// IsExpired はセッションが期限切れかどうかを判定する。
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
