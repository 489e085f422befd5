// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// CodeはレスポンスのerrorフィールドとHTTPステータスの決定に使用する。
type APIError struct {
	Code    string // エラーコード
	Message string // ユーザー向けメッセージ
	cause   error  // 内部原因（レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。errors.Is / errors.As による検査用。
func (e *APIError) Unwrap() error {
	return e.cause
}

// 定義済みエラーコード
const (
	// ErrCodeProviderExchange は認可コードの交換に失敗したことを示す。
	// 失敗ページへのリダイレクトで回復する。自動リトライはしない。
	ErrCodeProviderExchange = "PROVIDER_EXCHANGE_FAILED"

	// ErrCodeStore はユーザーストアまたはセッションストアに到達できない
	// （タイムアウト含む）ことを示す。5xx相当として扱う。
	ErrCodeStore = "STORE_UNAVAILABLE"

	// ErrCodeAuthorization は認証述語を満たさないリクエストを示す。
	// 401相当として扱う。
	ErrCodeAuthorization = "UNAUTHORIZED"

	// ErrCodeSessionDestruction はログアウト時にセッション削除を
	// 確認できなかったことを示す。クライアントはログアウト成功と
	// みなしてはならない。
	ErrCodeSessionDestruction = "SESSION_DESTRUCTION_FAILED"

	// ErrCodeNotFound はルートが存在しないことを示す。
	ErrCodeNotFound = "NOT_FOUND"
)

// NewProviderExchangeError は認可コード交換失敗エラーを生成する。
func NewProviderExchangeError(cause error) *APIError {
	return &APIError{
		Code:    ErrCodeProviderExchange,
		Message: "Failed to authenticate with Google",
		cause:   cause,
	}
}

// NewStoreError はストア到達不能エラーを生成する。
// opには失敗した操作名（"find user" 等）を指定する。
func NewStoreError(op string, cause error) *APIError {
	return &APIError{
		Code:    ErrCodeStore,
		Message: fmt.Sprintf("Storage operation failed: %s", op),
		cause:   cause,
	}
}

// NewAuthorizationError は認可エラーを生成する。
func NewAuthorizationError(message string) *APIError {
	return &APIError{
		Code:    ErrCodeAuthorization,
		Message: message,
	}
}

// NewSessionDestructionError はセッション削除失敗エラーを生成する。
func NewSessionDestructionError(cause error) *APIError {
	return &APIError{
		Code:    ErrCodeSessionDestruction,
		Message: "Failed to destroy session",
		cause:   cause,
	}
}
