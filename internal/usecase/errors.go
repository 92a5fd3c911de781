package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

// エラーの種類（閉じた集合）。HTTPステータスへの対応はここだけで決める
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindForbidden
	KindConflict
	KindInvalidState
	KindInvalidTransition
	KindNotPayable
	KindSignatureInvalid
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindNotPayable:
		return "not_payable"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "internal"
}

func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidState, KindInvalidTransition, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindNotFound, KindNotPayable:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// 機械向けの安定したコード
const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeForbidden               = "FORBIDDEN"
	CodeInternal                = "INTERNAL_ERROR"
	CodeOrderNotFound           = "ORDER_NOT_FOUND"
	CodeAddressNotFound         = "ADDRESS_NOT_FOUND"
	CodeProductNotFound         = "PRODUCT_NOT_FOUND"
	CodeCartEmpty               = "CART_EMPTY"
	CodeInsufficientStock       = "INSUFFICIENT_STOCK"
	CodeCurrencyMismatch        = "CURRENCY_MISMATCH"
	CodeInvalidStatusTransition = "INVALID_ORDER_STATUS_TRANSITION"
	CodeOrderAlreadyFinalized   = "ORDER_ALREADY_FINALIZED"
	CodeOrderNotPayable         = "ORDER_NOT_PAYABLE"
	CodeOrderNotCancellable     = "ORDER_NOT_CANCELLABLE"
	CodeWebhookSignatureInvalid = "WEBHOOK_SIGNATURE_INVALID"
	CodePaymentProviderFailure  = "PAYMENT_PROVIDER_ERROR"
	CodeIdempotencyKeyInvalid   = "IDEMPOTENCY_KEY_INVALID"
	CodeInvalidStatus           = "INVALID_STATUS"
	CodeInvalidQuery            = "INVALID_QUERY"
)

// AppErrorはusecaseが返す唯一のエラー型。Messageは英語の既定文言
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(kind ErrorKind, code, message string) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message}
}

func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}

// 想定外の失敗。詳細はErrに持たせ、レスポンスには出さない
func internalError(err error) *AppError {
	return &AppError{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

// usecase内部で作ったAppErrorはそのまま、それ以外は500に包む
func wrapInternal(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsAppError(err); ok {
		return err
	}
	return internalError(err)
}

var (
	errUnauthorized  = NewAppError(KindUnauthorized, CodeUnauthorized, "unauthorized")
	errForbidden     = NewAppError(KindForbidden, CodeForbidden, "forbidden")
	errOrderNotFound = NewAppError(KindNotFound, CodeOrderNotFound, "order not found")
	errNotPayable    = NewAppError(KindNotPayable, CodeOrderNotPayable, "order is not payable")
)

func validationError(code, message string) *AppError {
	return NewAppError(KindValidation, code, message)
}
