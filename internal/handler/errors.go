package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs-labo46/ec-order-engine/internal/usecase"

	"github.com/labstack/echo/v4"
	"golang.org/x/text/language"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

var supportedLangs = []language.Tag{language.English, language.Japanese}

var langMatcher = language.NewMatcher(supportedLangs)

// コードごとの日本語文言。無いものは英語のまま
var jaMessages = map[string]string{
	usecase.CodeValidation:              "入力内容が正しくありません",
	usecase.CodeUnauthorized:            "認証が必要です",
	usecase.CodeForbidden:               "この操作は許可されていません",
	usecase.CodeInternal:                "サーバー内部でエラーが発生しました",
	usecase.CodeOrderNotFound:           "注文が見つかりません",
	usecase.CodeAddressNotFound:         "住所が見つかりません",
	usecase.CodeProductNotFound:         "商品が見つかりません",
	usecase.CodeCartEmpty:               "カートが空です",
	usecase.CodeInsufficientStock:       "在庫が不足しています",
	usecase.CodeCurrencyMismatch:        "通貨の異なる商品は同時に注文できません",
	usecase.CodeInvalidStatusTransition: "この注文ステータスには変更できません",
	usecase.CodeOrderAlreadyFinalized:   "この注文はすでに確定しています",
	usecase.CodeOrderNotPayable:         "この注文は支払いできません",
	usecase.CodeOrderNotCancellable:     "この注文はキャンセルできません",
	usecase.CodeWebhookSignatureInvalid: "署名が正しくありません",
	usecase.CodePaymentProviderFailure:  "決済サービスでエラーが発生しました",
	usecase.CodeIdempotencyKeyInvalid:   "冪等キーが正しくありません",
	usecase.CodeInvalidStatus:           "ステータスが正しくありません",
	usecase.CodeInvalidQuery:            "検索条件が正しくありません",
}

// Accept-Languageから応答言語を決める
func preferredLanguage(c echo.Context) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(c.Request().Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := langMatcher.Match(tags...)
	return supportedLangs[idx]
}

func localize(c echo.Context, code, fallback string) string {
	if preferredLanguage(c) == language.Japanese {
		if msg, ok := jaMessages[code]; ok {
			return msg
		}
	}
	return fallback
}

func respondError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, ErrorResponse{Error: ErrorBody{Code: code, Message: localize(c, code, message)}})
}

// usecaseのエラーをHTTPに変換。5xxは詳細を出さない
func writeError(c echo.Context, logger *slog.Logger, err error) error {
	if err == nil {
		return nil
	}
	ae, ok := usecase.AsAppError(err)
	if !ok {
		ae = &usecase.AppError{Kind: usecase.KindInternal, Code: usecase.CodeInternal, Message: "internal error", Err: err}
	}

	status := ae.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(c.Request().Context(), "request failed",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()),
			slog.String("code", ae.Code),
			slog.String("error", err.Error()),
		)
		code := ae.Code
		if code == "" {
			code = usecase.CodeInternal
		}
		return respondError(c, status, code, "internal error")
	}
	return respondError(c, status, ae.Code, ae.Message)
}

func badRequest(c echo.Context, message string) error {
	return respondError(c, http.StatusBadRequest, usecase.CodeValidation, message)
}

func unauthorized(c echo.Context) error {
	return respondError(c, http.StatusUnauthorized, usecase.CodeUnauthorized, "unauthorized")
}
