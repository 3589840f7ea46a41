package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"rentdesk/internal/domain"
)

// statusFor 领域错误 → HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGatewayAuth), errors.Is(err, domain.ErrGatewayRequest):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError 4xx 直接返回错误信息；5xx 只返回通用信息，详细错误写日志
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		message := "internal server error"
		if status == http.StatusBadGateway {
			message = "payment gateway unavailable"
		}
		writeJSON(w, status, Fail(message))
		return
	}
	writeJSON(w, status, Fail(clientMessage(err)))
}

// clientMessage 去掉 "validation error: " 之类的哨兵前缀
func clientMessage(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{domain.ErrValidation, domain.ErrForbidden, domain.ErrNotFound, domain.ErrConflict} {
		if errors.Is(err, sentinel) {
			msg = strings.TrimPrefix(msg, sentinel.Error()+": ")
			break
		}
	}
	return msg
}
