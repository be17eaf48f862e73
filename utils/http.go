package utils

import (
	"github.com/valyala/fasthttp"
)

const RequestIDHeader = "X-Request-ID"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func WriteJSON(ctx *fasthttp.RequestCtx, status int, body interface{}) {
	data, err := Marshal(body)
	if err != nil {
		CreateErrorResponse(ctx)
		return
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	propagateRequestID(ctx)
	ctx.SetBody(data)
}

func WriteError(ctx *fasthttp.RequestCtx, status int, message string) {
	WriteJSON(ctx, status, ErrorResponse{
		Error:   fasthttp.StatusMessage(status),
		Message: message,
	})
}

func CreateErrorResponse(ctx *fasthttp.RequestCtx) {
	ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	ctx.SetContentType("application/json")

	ctx.Response.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Response.Header.Set("Pragma", "no-cache")
	ctx.Response.Header.Set("Expires", "0")
	propagateRequestID(ctx)

	ctx.SetBodyString(`{"error":"Internal Server Error","message":"An unexpected error occurred"}`)
}

func propagateRequestID(ctx *fasthttp.RequestCtx) {
	if requestID := ctx.Request.Header.Peek(RequestIDHeader); len(requestID) > 0 {
		ctx.Response.Header.SetBytesV(RequestIDHeader, requestID)
	}
}
