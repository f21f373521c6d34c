package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/clinicq/queue-api/pkg/errors"
)

type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Status: "success",
		Data:   data,
	}
}

func NewErrorResponse(message string) *Response {
	return &Response{
		Status:  "error",
		Code:    string(apperrors.ErrValidation),
		Message: message,
	}
}

// Error writes the response for a service error, mapping the domain error
// code to an HTTP status. The code field stays machine checkable while the
// message is free text.
func Error(c *gin.Context, err error) {
	code := apperrors.Code(err)
	c.JSON(StatusForCode(code), &Response{
		Status:  "error",
		Code:    string(code),
		Message: err.Error(),
	})
}

func StatusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrConflict, apperrors.ErrInvalidState:
		return http.StatusConflict
	case apperrors.ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
