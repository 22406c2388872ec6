package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/campus/messaging/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// RequestIDKey is the header and gin context key for the request ID
const RequestIDKey = "X-Request-ID"

// SetupValidator names fields by their json or form tag and registers the
// notblank rule used by message and attachment requests.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(fieldName)
	_ = v.RegisterValidation("notblank", validators.NotBlank)
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form", "uri"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

// FormatValidationErrors lists every rejected field
func FormatValidationErrors(err error, requestID string) dto.Response {
	var fieldErrs validator.ValidationErrors
	errors.As(err, &fieldErrs)

	details := make([]dto.ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: describe(fe)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 for a bind error. Malformed bodies get
// ERR_INVALID_JSON, rule violations get field details.
func HandleValidationError(c *gin.Context, err error) {
	requestID := GetRequestID(c)

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		c.AbortWithStatusJSON(http.StatusBadRequest,
			dto.NewErrorResponseWithRequestID(dto.ErrCodeInvalidJSON, "Malformed request body", requestID))
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err, requestID))
}

// BindJSON binds and validates the body, writing the 400 itself on failure
func BindJSON(c *gin.Context, obj any) bool {
	return bind(c, c.ShouldBindJSON(obj))
}

// BindQuery binds and validates the query string
func BindQuery(c *gin.Context, obj any) bool {
	return bind(c, c.ShouldBindQuery(obj))
}

func bind(c *gin.Context, err error) bool {
	if err != nil {
		HandleValidationError(c, err)
		return false
	}
	return true
}

// GetRequestID returns the id assigned by RequestID, falling back to the
// inbound header
func GetRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// describe renders a field error for API clients. Length rules read as
// characters on strings and items on lists.
func describe(fe validator.FieldError) string {
	unit := ""
	switch fe.Kind() {
	case reflect.String:
		unit = " characters"
	case reflect.Slice, reflect.Array:
		unit = " items"
	}

	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "notblank":
		return "Must not be blank"
	case "min":
		if unit == " items" {
			return "Must contain at least " + fe.Param() + unit
		}
		return "Must be at least " + fe.Param() + unit
	case "max":
		if unit == " items" {
			return "Must contain at most " + fe.Param() + unit
		}
		return "Must be at most " + fe.Param() + unit
	case "gt":
		return "Must be greater than " + fe.Param()
	case "uuid":
		return "Invalid UUID format"
	case "url":
		return "Invalid URL format"
	case "oneof":
		return "Must be one of: " + fe.Param()
	}
	return "Invalid value"
}
