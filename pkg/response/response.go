package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/curriculum-progress-api/internal/models"
	appErrors "github.com/noah-isme/curriculum-progress-api/pkg/errors"
)

// Envelope is the body shape of every JSON response.
type Envelope struct {
	Data       interface{}            `json:"data,omitempty"`
	Error      *appErrors.Error       `json:"error,omitempty"`
	Pagination *models.Pagination     `json:"pagination,omitempty"`
	Meta       map[string]interface{} `json:"meta,omitempty"`
}

// Progress and audit data is per student, so nothing is cacheable downstream.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}

// JSON writes data with optional pagination and meta.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Data: data, Pagination: pagination}
	if len(meta) > 0 && len(meta[0]) > 0 {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Created responds 201.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Partial responds 207 carrying both the per-item results and the aggregate
// error. A nil err degrades to a plain 200.
func Partial(c *gin.Context, data interface{}, err *appErrors.Error) {
	if err == nil {
		JSON(c, http.StatusOK, data, nil)
		return
	}
	noStore(c)
	c.JSON(http.StatusMultiStatus, Envelope{Data: data, Error: err})
}

// Error converts err to the domain error shape. Unknown errors become 500
// without leaking their text.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr == nil {
		appErr = appErrors.ErrInternal
	}
	status := appErr.Status
	if status < http.StatusBadRequest {
		status = http.StatusInternalServerError
	}
	noStore(c)
	c.JSON(status, Envelope{Error: appErr})
}

// Abort writes the error and stops the middleware chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
