// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/shotokan2003/sen-ai/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByGoogleID は指定のGoogle subject idを持つユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// InsertIfAbsent はgoogle_idが未登録の場合のみユーザーを作成する。
	// 作成した場合はuserのID/CreatedAt/LastLoginを採番値で埋めてtrueを返す。
	// 既に存在する場合はuserを変更せずfalseを返す。
	// 一意制約を唯一の調停者とするため、同時の初回ログインでも行は1つしか生まれない。
	InsertIfAbsent(ctx context.Context, user *model.User) (bool, error)

	// UpdateLastLogin はlast_loginを現在時刻に更新し、更新後のユーザーを返す。
	// 該当ユーザーが存在しない場合はnilを返す。
	UpdateLastLogin(ctx context.Context, googleID string) (*model.User, error)

	// UpdateProfileAndLastLogin はemail/name/profile_pictureを最新の
	// プロバイダー値で上書きし、last_loginも更新する。
	// 該当ユーザーが存在しない場合はnilを返す。
	UpdateProfileAndLastLogin(ctx context.Context, googleID, email, name, profilePicture string) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDの有効なセッションを取得する。
	// 存在しない、または期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// Touch はスライディング有効期限を延長する。
	// expires_atをnow+ttlに、last_seen_atをnowに更新する。
	// 期限切れ・不存在のセッションは更新しない。
	Touch(ctx context.Context, id string, ttl time.Duration) error

	// DeleteByID は指定IDのセッションを削除する。
	// 既に存在しない場合もエラーにはしない（削除済みとみなす）。
	DeleteByID(ctx context.Context, id string) error

	// DeleteExpired は期限切れの全セッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
