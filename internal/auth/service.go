// Package auth はGoogle OAuth認証フローとセッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/shotokan2003/sen-ai/internal/model"
	"github.com/shotokan2003/sen-ai/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	SubjectID      string
	Email          string
	Name           string
	ProfilePicture string
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int           // セッション有効期間（秒）
	StoreTimeout  time.Duration // ストア呼び出し1回あたりのタイムアウト上限

	// ログイン時にプロフィール項目をプロバイダーの最新値で上書きするか。
	// falseの場合は初回取得値を保持しlast_loginのみ更新する（参照実装の挙動）。
	RefreshProfileOnLogin bool
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	config      ServiceConfig
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	config ServiceConfig,
) *Service {
	if config.StoreTimeout == 0 {
		config.StoreTimeout = 5 * time.Second
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		config:      config,
	}
}

// GetLoginURL はOAuth認証URLを生成する。ローカルの状態は変更しない。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録のsubject idの場合はusersレコードを作成し、登録済みの場合は
// last_loginのみ（設定によりプロフィールも）更新する。
// 認可コードの交換に失敗した場合はProviderExchangeErrorを返し、
// ユーザーレコードには一切触れない。
// ストアに到達できない場合はStoreErrorを返す。交換済みのOAuthフローは
// リトライされないため、呼び出し側は認証フローを最初からやり直す。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, *model.User, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, model.NewProviderExchangeError(err)
	}

	user, created, err := s.upsertUser(ctx, userInfo)
	if err != nil {
		return nil, nil, err
	}

	if created {
		slog.Info("new user created",
			slog.Int64("user_id", user.ID),
			slog.String("email", user.Email),
		)
	} else {
		slog.Info("existing user logged in",
			slog.Int64("user_id", user.ID),
		)
	}

	session, err := s.createSession(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	return session, user, nil
}

// upsertUser はsubject idをキーにユーザーを作成または更新する。
// まずsubject idで既存ユーザーを検索し、見つかればlast_login
// （設定によりプロフィールも）を更新する。未登録なら挿入を試みる。
// 一意インデックスが唯一の調停者となるため、同時の初回ログインでも
// 行は1つしか作成されず、挿入に負けた側はlookup-and-updateに
// フォールバックして成功として処理される。
func (s *Service) upsertUser(ctx context.Context, info *OAuthUserInfo) (*model.User, bool, error) {
	storeCtx, cancel := s.storeContext(ctx)
	existing, err := s.userRepo.FindByGoogleID(storeCtx, info.SubjectID)
	cancel()
	if err != nil {
		return nil, false, model.NewStoreError("find user", err)
	}
	if existing != nil {
		updated, err := s.updateReturningUser(ctx, info)
		if err != nil {
			return nil, false, err
		}
		return updated, false, nil
	}

	user := &model.User{
		GoogleID:       info.SubjectID,
		Email:          info.Email,
		Name:           info.Name,
		ProfilePicture: info.ProfilePicture,
	}

	storeCtx, cancel = s.storeContext(ctx)
	created, err := s.userRepo.InsertIfAbsent(storeCtx, user)
	cancel()
	if err != nil {
		return nil, false, model.NewStoreError("insert user", err)
	}
	if created {
		return user, true, nil
	}

	// 検索と挿入の間に同じsubject idの初回ログインが先着した
	updated, err := s.updateReturningUser(ctx, info)
	if err != nil {
		return nil, false, err
	}
	return updated, false, nil
}

// updateReturningUser は登録済みユーザーのlast_login
// （設定によりプロフィールも）を更新し、更新後のユーザーを返す。
func (s *Service) updateReturningUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	var updated *model.User
	var err error
	if s.config.RefreshProfileOnLogin {
		updated, err = s.userRepo.UpdateProfileAndLastLogin(storeCtx,
			info.SubjectID, info.Email, info.Name, info.ProfilePicture)
	} else {
		updated, err = s.userRepo.UpdateLastLogin(storeCtx, info.SubjectID)
	}
	if err != nil {
		return nil, model.NewStoreError("update user login", err)
	}
	if updated == nil {
		// 検出済みの行がログイン処理中に消えるのはこのサブシステムでは起きない想定
		return nil, model.NewStoreError("update user login",
			fmt.Errorf("user %s vanished during login", info.SubjectID))
	}

	return updated, nil
}

// ResolvePrincipal はセッショントークンから現在のユーザーを解決する。
// トークンが不明・期限切れの場合、またはセッションが参照するユーザーが
// 存在しない場合は(nil, nil)を返す（匿名扱い）。
// ストアに到達できない場合のみStoreErrorを返す。
// 有効なセッションにはスライディング有効期限の延長をベストエフォートで行う。
func (s *Service) ResolvePrincipal(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	storeCtx, cancel := s.storeContext(ctx)
	session, err := s.sessionRepo.FindByID(storeCtx, token)
	cancel()
	if err != nil {
		return nil, model.NewStoreError("find session", err)
	}
	if session == nil || session.IsExpired(time.Now()) {
		return nil, nil
	}

	// スライディング有効期限の延長。失敗しても既存の期限で1リクエスト分は
	// 処理を続行できるため、警告ログのみで許容する。
	storeCtx, cancel = s.storeContext(ctx)
	if err := s.sessionRepo.Touch(storeCtx, session.ID, s.sessionTTL()); err != nil {
		slog.Warn("failed to refresh session expiry",
			slog.String("error", err.Error()),
		)
	}
	cancel()

	storeCtx, cancel = s.storeContext(ctx)
	user, err := s.userRepo.FindByID(storeCtx, session.UserID)
	cancel()
	if err != nil {
		return nil, model.NewStoreError("find user", err)
	}
	if user == nil {
		// セッションが削除済みユーザーを参照している。匿名として扱う。
		slog.Warn("session references missing user",
			slog.String("session_id", session.ID),
			slog.Int64("user_id", session.UserID),
		)
		return nil, nil
	}

	return user, nil
}

// Logout はセッションを破棄する。
// ストアが削除を確認できなかった場合はSessionDestructionErrorを返す。
// クライアントはその場合ログアウト成功とみなしてはならない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return model.NewAuthorizationError("Please log in to access this resource")
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.sessionRepo.DeleteByID(storeCtx, token); err != nil {
		return model.NewSessionDestructionError(err)
	}

	slog.Info("user logged out", slog.String("session_id", token))
	return nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID int64) (*model.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &model.Session{
		ID:         token,
		UserID:     userID,
		ExpiresAt:  now.Add(s.sessionTTL()),
		CreatedAt:  now,
		LastSeenAt: now,
	}

	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()

	if err := s.sessionRepo.Create(storeCtx, session); err != nil {
		return nil, model.NewStoreError("create session", err)
	}

	return session, nil
}

// storeContext はストア呼び出し用のタイムアウト付きコンテキストを返す。
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.StoreTimeout)
}

func (s *Service) sessionTTL() time.Duration {
	return time.Duration(s.config.SessionMaxAge) * time.Second
}

// generateSessionToken は暗号的に安全なセッショントークンを生成する。
func generateSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
