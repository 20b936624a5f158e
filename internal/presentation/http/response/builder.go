package response

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Additional-Code/fooddash/pkg/errorbank"
)

// retryAfterSeconds is advertised on temporary failures such as an unreachable order store.
const retryAfterSeconds = 1

// Envelope is the body of every fooddash HTTP response.
type Envelope struct {
	Success   bool           `json:"success"`
	RequestID string         `json:"request_id,omitempty"`
	Data      any            `json:"data,omitempty"`
	Error     *ErrorBody     `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ErrorBody describes a failed request. Code is the stable machine-readable identifier clients switch on.
type ErrorBody struct {
	Kind      string         `json:"kind"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Builder assembles an Envelope for one request.
type Builder struct {
	ctx    echo.Context
	status int
	data   any
	err    error
	meta   map[string]any
}

// New starts a Builder for the request behind ctx.
func New(ctx echo.Context) *Builder {
	return &Builder{ctx: ctx, status: http.StatusOK}
}

// WithStatus overrides the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	if status > 0 {
		b.status = status
	}
	return b
}

// WithData attaches a success payload.
func (b *Builder) WithData(data any) *Builder {
	b.data = data
	return b
}

// WithError switches the response to an error envelope.
func (b *Builder) WithError(err error) *Builder {
	b.err = err
	return b
}

// WithMeta sets one meta key. Empty keys are ignored.
func (b *Builder) WithMeta(key string, value any) *Builder {
	if key == "" {
		return b
	}
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// WithPage records list pagination in meta.
func (b *Builder) WithPage(total, limit, offset int) *Builder {
	return b.WithMeta("total", total).WithMeta("limit", limit).WithMeta("offset", offset)
}

// Build writes the envelope as JSON.
func (b *Builder) Build() error {
	env := Envelope{
		RequestID: b.ctx.Response().Header().Get(echo.HeaderXRequestID),
		Meta:      b.meta,
	}
	if b.err == nil {
		env.Success = true
		env.Data = b.data
		return b.ctx.JSON(b.status, env)
	}

	appErr := errorbank.From(b.err)
	status := b.status
	if status < http.StatusBadRequest {
		status = appErr.StatusCode()
	}
	env.Error = &ErrorBody{
		Kind:      string(appErr.Kind()),
		Code:      appErr.Code(),
		Message:   appErr.Message(),
		Retryable: appErr.Temporary(),
		Details:   appErr.Details(),
	}
	if env.Error.Retryable {
		b.ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	return b.ctx.JSON(status, env)
}
