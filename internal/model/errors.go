// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類を表す。
// HTTPステータスやコンソール表示の振り分けに使用する。
type ErrorKind string

const (
	// KindValidation は入力検証エラー。理由はそのまま利用者に表示する。
	KindValidation ErrorKind = "validation"
	// KindUnauthenticated はサインインが必要なエラー。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindForbidden は権限不足エラー。
	KindForbidden ErrorKind = "forbidden"
	// KindNotFound は対象が存在しないエラー。
	KindNotFound ErrorKind = "not_found"
	// KindConflict は一意制約に反するエラー。
	KindConflict ErrorKind = "conflict"
	// KindPending は認可状態が確定していないエラー。
	KindPending ErrorKind = "pending"
	// KindUnavailable は永続化層やネットワークの一時的な障害。再試行可能。
	KindUnavailable ErrorKind = "unavailable"
	// KindUnexpected は想定外のエラー。
	KindUnexpected ErrorKind = "unexpected"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Err は内部原因であり、レスポンスには含めない。
type APIError struct {
	Kind     ErrorKind
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, booking, catalog, profile, system
	Action   string // ユーザー向け対処方法
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は内部原因を返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf はエラーの分類を返す。
// APIError以外のエラーはKindUnexpectedとして扱う。nilの場合は空文字を返す。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnexpected
}

// IsKind はエラーが指定した分類かどうかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrProfileNotFound はプロフィールが存在しないことを示す。
// プロフィール取得の「未作成」はエラーではなく非管理者として扱うため、
// 呼び出し側はerrors.Isで判別する。
var ErrProfileNotFound = errors.New("profile not found")

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidStatus     = "INVALID_STATUS"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeAuthPending       = "AUTH_PENDING"
	ErrCodeBookingNotFound   = "BOOKING_NOT_FOUND"
	ErrCodeCarNotFound       = "CAR_NOT_FOUND"
	ErrCodeProfileNotFound   = "PROFILE_NOT_FOUND"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken        = "EMAIL_TAKEN"
	ErrCodeEmailNotConfirmed = "EMAIL_NOT_CONFIRMED"
	ErrCodeWeakPassword      = "WEAK_PASSWORD"
	ErrCodeInvalidToken      = "INVALID_TOKEN"
	ErrCodeAdminExists       = "ADMINISTRATOR_EXISTS"
	ErrCodeUnavailable       = "SERVICE_UNAVAILABLE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewValidationError は入力検証エラーを生成する。
// reasonは加工せずにメッセージとして利用者へ返す。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "Please correct the highlighted fields and try again.",
	}
}

// NewInvalidStatusError は予約ステータスが既定の値でない場合のエラーを生成する。
func NewInvalidStatusError(status string) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidStatus,
		Message:  fmt.Sprintf("invalid booking status: %q", status),
		Category: "validation",
		Action:   "Use one of pending, confirmed, cancelled or completed.",
	}
}

// NewUnauthenticatedError はサインインが必要な場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeUnauthenticated,
		Message:  "please sign in to continue",
		Category: "auth",
		Action:   "Sign in and try again.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "Ask an administrator for access.",
	}
}

// NewAuthPendingError は認可状態が確定する前に判定を求められた場合のエラーを生成する。
func NewAuthPendingError() *APIError {
	return &APIError{
		Kind:     KindPending,
		Code:     ErrCodeAuthPending,
		Message:  "authorization is still being resolved",
		Category: "auth",
		Action:   "Retry in a moment.",
	}
}

// NewBookingNotFoundError は予約未検出エラーを生成する。
func NewBookingNotFoundError(bookingID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeBookingNotFound,
		Message:  fmt.Sprintf("booking not found: %s", bookingID),
		Category: "booking",
		Action:   "Check the booking ID.",
	}
}

// NewCarNotFoundError は車両未検出エラーを生成する。
func NewCarNotFoundError(carID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeCarNotFound,
		Message:  fmt.Sprintf("car not found: %s", carID),
		Category: "catalog",
		Action:   "Choose another car from the catalog.",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
// errors.Is(err, ErrProfileNotFound) が真になる。
func NewProfileNotFoundError(principalID string) *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("profile not found: %s", principalID),
		Category: "profile",
		Action:   "Sign in again to create your profile.",
		Err:      ErrProfileNotFound,
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeUserNotFound,
		Message:  "user not found",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeInvalidCredential,
		Message:  "invalid email or password",
		Category: "auth",
		Action:   "Check your email and password.",
	}
}

// NewEmailTakenError はメールアドレスが登録済みの場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeEmailTaken,
		Message:  "an account with this email already exists",
		Category: "auth",
		Action:   "Sign in instead, or use another email address.",
	}
}

// NewEmailNotConfirmedError はメールアドレス未確認のままサインインした場合のエラーを生成する。
func NewEmailNotConfirmedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeEmailNotConfirmed,
		Message:  "please confirm your email address before signing in",
		Category: "auth",
		Action:   "Open the confirmation link sent to your inbox.",
	}
}

// NewWeakPasswordError はパスワード要件を満たさない場合のエラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("password must be at least %d characters", minLength),
		Category: "validation",
		Action:   "Choose a longer password.",
	}
}

// NewInvalidTokenError は確認トークンやセッショントークンが不正な場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Kind:     KindUnauthenticated,
		Code:     ErrCodeInvalidToken,
		Message:  "the token is invalid or has expired",
		Category: "auth",
		Action:   "Sign in again.",
	}
}

// NewAdministratorExistsError は初期管理者の作成時に既に管理者が存在する場合のエラーを生成する。
func NewAdministratorExistsError() *APIError {
	return &APIError{
		Kind:     KindConflict,
		Code:     ErrCodeAdminExists,
		Message:  "an administrator already exists",
		Category: "auth",
		Action:   "Ask an existing administrator to grant access.",
	}
}

// NewUnavailableError は永続化層の一時的な障害を表すエラーを生成する。
// 原因はErrに保持し、メッセージは汎用文言とする。
func NewUnavailableError(cause error) *APIError {
	return &APIError{
		Kind:     KindUnavailable,
		Code:     ErrCodeUnavailable,
		Message:  "the service is temporarily unavailable",
		Category: "system",
		Action:   "Please try again in a moment.",
		Err:      cause,
	}
}

// NewInternalError は想定外のエラーを生成する。
func NewInternalError(cause error) *APIError {
	return &APIError{
		Kind:     KindUnexpected,
		Code:     ErrCodeInternal,
		Message:  "an unexpected error occurred",
		Category: "system",
		Action:   "Please try again later.",
		Err:      cause,
	}
}
