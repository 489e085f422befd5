package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shotokan2003/sen-ai/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, google_id, email, name, profile_picture, created_at, last_login`

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.ProfilePicture, &user.CreatedAt, &user.LastLogin)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return user, nil
}

// FindByGoogleID は指定のGoogle subject idを持つユーザーを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByGoogleID(ctx context.Context, googleID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE google_id = $1`,
		googleID,
	).Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.ProfilePicture, &user.CreatedAt, &user.LastLogin)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by google ID: %w", err)
	}

	return user, nil
}

// InsertIfAbsent はgoogle_idが未登録の場合のみユーザーを作成する。
// ON CONFLICT DO NOTHINGにより、同時の初回ログインでも一意制約が
// 調停者となり行は1つしか作成されない。負けた側はfalseを受け取り
// 呼び出し側でlookup-and-updateにフォールバックする。
func (r *PostgresUserRepo) InsertIfAbsent(ctx context.Context, user *model.User) (bool, error) {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (google_id, email, name, profile_picture)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (google_id) DO NOTHING
		 RETURNING id, created_at, last_login`,
		user.GoogleID, user.Email, user.Name, user.ProfilePicture,
	).Scan(&user.ID, &user.CreatedAt, &user.LastLogin)

	if err == sql.ErrNoRows {
		// 既存行とコンフリクトした（挿入されなかった）
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert user: %w", err)
	}

	return true, nil
}

// UpdateLastLogin はlast_loginを現在時刻に更新し、更新後のユーザーを返す。
// 該当ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) UpdateLastLogin(ctx context.Context, googleID string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE users SET last_login = now()
		 WHERE google_id = $1
		 RETURNING `+userColumns,
		googleID,
	).Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.ProfilePicture, &user.CreatedAt, &user.LastLogin)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}

	return user, nil
}

// UpdateProfileAndLastLogin はプロフィール項目を最新のプロバイダー値で
// 上書きし、last_loginも更新する。該当ユーザーが存在しない場合はnilを返す。
func (r *PostgresUserRepo) UpdateProfileAndLastLogin(ctx context.Context, googleID, email, name, profilePicture string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET email = $2, name = $3, profile_picture = $4, last_login = now()
		 WHERE google_id = $1
		 RETURNING `+userColumns,
		googleID, email, name, profilePicture,
	).Scan(&user.ID, &user.GoogleID, &user.Email, &user.Name, &user.ProfilePicture, &user.CreatedAt, &user.LastLogin)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return user, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
