package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/pkg/logging"
	"github.com/postpilot/postpilot/pkg/telemetry"
)

// maxBatch bounds the number of calls in one batch request
const maxBatch = 50

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC error
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MethodHandler serves one admin method
type MethodHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// JSONRPCHandler dispatches single and batch requests to registered methods
type JSONRPCHandler struct {
	methods map[string]MethodHandler
	logger  *zap.Logger
}

// NewJSONRPCHandler creates a new JSON-RPC handler
func NewJSONRPCHandler() *JSONRPCHandler {
	return &JSONRPCHandler{
		methods: make(map[string]MethodHandler),
		logger:  logging.WithComponent("jsonrpc"),
	}
}

// RegisterMethod registers a method handler
func (h *JSONRPCHandler) RegisterMethod(method string, handler MethodHandler) {
	h.methods[method] = handler
}

// Handle serves a request body holding one call or a batch of calls
func (h *JSONRPCHandler) Handle(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "jsonrpc.handle")
	defer span.End()

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusOK, h.errorResponse(nil, ErrParseError, "Parse error", err))
		return
	}
	body = bytes.TrimSpace(body)

	if len(body) == 0 || body[0] != '[' {
		var req JSONRPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			c.JSON(http.StatusOK, h.errorResponse(nil, ErrParseError, "Parse error", err))
			return
		}
		c.JSON(http.StatusOK, h.call(ctx, req))
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		c.JSON(http.StatusOK, h.errorResponse(nil, ErrParseError, "Parse error", err))
		return
	}
	switch {
	case len(batch) == 0:
		c.JSON(http.StatusOK, h.errorResponse(nil, ErrInvalidRequest, "Invalid Request", errors.New("empty batch")))
		return
	case len(batch) > maxBatch:
		c.JSON(http.StatusOK, h.errorResponse(nil, ErrInvalidRequest, "Invalid Request",
			fmt.Errorf("batch of %d calls exceeds %d", len(batch), maxBatch)))
		return
	}
	span.SetAttributes(attribute.Int("rpc.batch_size", len(batch)))

	responses := make([]JSONRPCResponse, 0, len(batch))
	for _, raw := range batch {
		var req JSONRPCRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			responses = append(responses, h.errorResponse(nil, ErrInvalidRequest, "Invalid Request", err))
			continue
		}
		responses = append(responses, h.call(ctx, req))
	}
	c.JSON(http.StatusOK, responses)
}

// call runs one request and builds its response
func (h *JSONRPCHandler) call(ctx context.Context, req JSONRPCRequest) JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return h.errorResponse(req.ID, ErrInvalidRequest, "Invalid Request", errors.New("invalid jsonrpc version"))
	}

	handler, ok := h.methods[req.Method]
	if !ok {
		return h.errorResponse(req.ID, ErrMethodNotFound, "Method not found", fmt.Errorf("method %s not found", req.Method))
	}

	ctx, span := telemetry.StartSpan(ctx, "jsonrpc."+req.Method)
	defer span.End()

	result, err := handler(ctx, req.Params)
	if err != nil {
		span.RecordError(err)
		code, message := errorCode(err)
		return h.errorResponse(req.ID, code, message, err)
	}
	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// errorResponse builds an error response; only server errors are logged as errors
func (h *JSONRPCHandler) errorResponse(id interface{}, code int, message string, err error) JSONRPCResponse {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	if err != nil {
		if code == ErrServer {
			h.logger.Error("JSON-RPC error", zap.String("message", message), zap.Error(err))
		} else {
			h.logger.Debug("JSON-RPC request rejected", zap.Int("code", code), zap.Error(err))
		}
		resp.Error.Data = err.Error()
	}
	return resp
}

// Standard JSON-RPC error codes
const (
	ErrParseError     = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternalError  = -32603
)
