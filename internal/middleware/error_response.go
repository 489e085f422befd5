package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/shotokan2003/sen-ai/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// フロントエンドはerrorフィールドで分岐し、messageを表示する。
type ErrorResponseBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusForError はAPIErrorのコードからHTTPステータスコードを決定する。
func StatusForError(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeAuthorization:
		return http.StatusUnauthorized
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeProviderExchange:
		return http.StatusBadGateway
	case model.ErrCodeStore, model.ErrCodeSessionDestruction:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:   errorLabel(statusCode),
		Message: apiErr.Message,
	})
}

// WriteAPIError はAPIErrorのコードに応じたステータスでレスポンスを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForError(apiErr), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:    model.ErrCodeStore,
		Message: "Something went wrong",
	})
}

// WriteNotFound は未定義ルートへの統一404レスポンスを書き込む。
func WriteNotFound(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
		Code:    model.ErrCodeNotFound,
		Message: "Route not found",
	})
}

// errorLabel はステータスコードに対応するerrorフィールドの値を返す。
func errorLabel(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Unauthorized"
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusBadGateway:
		return "Bad Gateway"
	case http.StatusTooManyRequests:
		return "Too Many Requests"
	default:
		return "Internal Server Error"
	}
}
