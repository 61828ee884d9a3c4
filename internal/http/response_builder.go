package http

import (
	"encoding/json"
	"net/http"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	headers    map[string]string
	body       any
}

func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body writes
// only the status.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if b.body == nil {
		w.WriteHeader(b.statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(b.statusCode)
	_ = json.NewEncoder(w).Encode(b.body)
}

// errorBody is {"error": {...}} plus, for partial success, the result of
// the operation under "data".
type errorBody struct {
	Error *AppError `json:"error"`
	Data  any       `json:"data,omitempty"`
}

// ErrorResponse builds the response for err. data is included only when
// the mutation was applied but not persisted.
func ErrorResponse(err error, data any) *JSONResponseBuilder {
	appErr := FromError(err)
	body := errorBody{Error: appErr}
	if appErr.Code == ErrNotPersisted.Code {
		body.Data = data
	}
	return NewJSONResponse().Status(appErr.StatusCode).Body(body)
}

func MethodNotAllowedError(allowedMethods string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(http.StatusMethodNotAllowed).
		Header("Allow", allowedMethods).
		Body(errorBody{Error: &AppError{Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed"}})
}
