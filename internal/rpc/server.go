package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/cloud/internal/pkg/response"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	contentTypeMsgpack = "application/msgpack"
	maxBodyBytes       = 8 << 20
)

// Server exposes a Dispatcher over HTTP. Each call is a POST whose body is
// the argument array, as JSON or msgpack.
type Server struct {
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewServer(d *Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{dispatcher: d, logger: logger}
}

// RegisterRoutes mounts POST /:service on rg, and GET / listing the
// service bindings.
func (s *Server) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/", s.bindings)
	rg.POST("/:service", func(c *gin.Context) {
		s.serve(c, strings.TrimSpace(c.Param("service")))
	})
}

// bindings writes the dispatcher's bindings as JSON. A *codegen.Registry
// keeps its emission order.
func (s *Server) bindings(c *gin.Context) {
	body, err := json.Marshal(s.dispatcher.bindings)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Raw(c, body)
}

func (s *Server) serve(c *gin.Context, service string) {
	start := time.Now()
	msgpackBody := isMsgpack(c.ContentType())

	args, err := decodeArgs(c.Request.Body, msgpackBody)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	out, err := s.dispatcher.Invoke(c.Request.Context(), service, args)
	if err != nil {
		status := statusOf(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("rpc call failed", zap.String("service", service), zap.Error(err))
		}
		c.AbortWithStatusJSON(status, gin.H{"ok": 0, "code": status, "message": err.Error()})
		return
	}

	s.logger.Debug("rpc call",
		zap.String("service", service),
		zap.Duration("latency", time.Since(start)),
	)

	if msgpackBody {
		body, err := msgpack.Marshal(map[string]any{"data": out})
		if err != nil {
			response.InternalError(c, err)
			return
		}
		c.Data(http.StatusOK, contentTypeMsgpack, body)
		return
	}
	response.OK(c, out)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnknownService):
		return http.StatusNotFound
	case errors.Is(err, ErrUnknownModule), errors.Is(err, ErrUnknownMember):
		return http.StatusNotImplemented
	}
	return response.StatusOf(err)
}

func isMsgpack(contentType string) bool {
	ct := strings.ToLower(contentType)
	return ct == contentTypeMsgpack || ct == "application/x-msgpack"
}

// DecodeArgs parses a call body. An empty body means no arguments; a JSON
// value that is not an array is treated as the single argument.
func DecodeArgs(body []byte, msgpackBody bool) ([]json.RawMessage, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	if msgpackBody {
		var values []any
		if err := msgpack.Unmarshal(body, &values); err != nil {
			var single any
			if err2 := msgpack.Unmarshal(body, &single); err2 != nil {
				return nil, fmt.Errorf("invalid msgpack body: %w", err)
			}
			values = []any{single}
		}
		args := make([]json.RawMessage, 0, len(values))
		for _, v := range values {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("invalid msgpack argument: %w", err)
			}
			args = append(args, raw)
		}
		return args, nil
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid json body")
	}
	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return []json.RawMessage{json.RawMessage(body)}, nil
	}
	return args, nil
}

func decodeArgs(r io.Reader, msgpackBody bool) ([]json.RawMessage, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return DecodeArgs(body, msgpackBody)
}
