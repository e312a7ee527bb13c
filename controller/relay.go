package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/proxycast/gateway/common/logger"
	"github.com/proxycast/gateway/credpool"
	"github.com/proxycast/gateway/gwconfig"
	"github.com/proxycast/gateway/relay/apierr"
	"github.com/proxycast/gateway/relay/channeltype"
	"github.com/proxycast/gateway/relay/meta"
	"github.com/proxycast/gateway/relay/router"
	"github.com/proxycast/gateway/relay/streaming"
	"github.com/proxycast/gateway/relay/streaming/anthropicsse"
	"github.com/proxycast/gateway/relay/streaming/awsevents"
	"github.com/proxycast/gateway/relay/streaming/openaisse"
)

// Handlers bundles the shared components every controller method needs,
// mirroring the teacher's pattern of thin package-level handler functions
// closed over relatively little state — here grouped into one receiver
// since the gateway has no global singletons to close over (model.DB,
// package-level config) the way one-api does.
type Handlers struct {
	Pool   *credpool.Pool
	Router *router.Router
	Cfg    *gwconfig.Store
}

// NewHandlers builds a Handlers over the gateway's shared components.
func NewHandlers(pool *credpool.Pool, r *router.Router, cfg *gwconfig.Store) *Handlers {
	return &Handlers{Pool: pool, Router: r, Cfg: cfg}
}

// AbortWithError writes the gateway's JSON error envelope and aborts the
// gin context, mirroring the teacher's middleware.AbortWithError.
func AbortWithError(c *gin.Context, status int, err error) {
	if apiErr, ok := apierr.As(err); ok {
		status = apiErr.StatusCode()
	}
	logger.Logger.Warn("request aborted", zap.Int("status", status), zap.Error(err))
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": err.Error(),
			"type":    "proxycast_error",
		},
	})
	c.Abort()
}

type chatRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Relay handles every client-facing completion-style endpoint (spec.md
// §4.E "EndpointRouter", §4.F "StreamPipeline"): it resolves the endpoint
// flavor from the inbound path, dispatches through the Router, and either
// streams the upstream SSE/event-stream body back to the client (parsing
// and re-encoding it for Kiro's AWS event-stream wire format) or copies a
// non-streaming response through untouched.
func (h *Handlers) Relay(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, http.StatusBadRequest, errors.Wrap(err, "read request body"))
		return
	}

	var req chatRequest
	_ = bindLoose(body, &req)

	m := &meta.Meta{
		EndpointKey:    string(endpointFromPath(c.Request.URL.Path)),
		RequestModel:   req.Model,
		IsStream:       req.Stream,
		RequestURLPath: c.Request.URL.Path,
		StartTime:      time.Now(),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.dispatchTimeout(m.IsStream))
	defer cancel()

	resp, err := h.Router.Dispatch(ctx, m, body)
	if err != nil {
		AbortWithError(c, http.StatusBadGateway, err)
		return
	}
	defer resp.Body.Close()

	if !m.IsStream {
		c.Status(resp.StatusCode)
		for k, vs := range resp.Header {
			for _, v := range vs {
				c.Writer.Header().Add(k, v)
			}
		}
		_, _ = io.Copy(c.Writer, resp.Body)
		return
	}

	h.stream(c, m, resp)
}

func (h *Handlers) dispatchTimeout(stream bool) time.Duration {
	if stream {
		return 10 * time.Minute
	}
	return 2 * time.Minute
}

// stream relays resp.Body as Server-Sent Events. Kiro's upstream speaks AWS
// event-stream framing rather than SSE, so its body is run through
// awsevents.Parser first; every other provider already speaks native
// OpenAI/Anthropic SSE and its bytes are copied straight through.
func (h *Handlers) stream(c *gin.Context, m *meta.Meta, resp *http.Response) {
	c.Status(http.StatusOK)
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)

	if m.ProviderType.Canonical() != channeltype.Kiro {
		buf := make([]byte, 32*1024)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := c.Writer.Write(buf[:n]); werr != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
			if readErr != nil {
				return
			}
		}
	}

	parser := awsevents.WithModel(m.EffectiveModel)
	useAnthropic := strings.Contains(m.RequestURLPath, "/v1/messages")

	emit := func(events []streaming.Event) {
		for _, ev := range events {
			var frames [][]byte
			var err error
			if useAnthropic {
				frames, err = anthropicsse.Encode(ev)
			} else {
				frames, err = h.openaiEncoder(c).Encode(ev)
			}
			if err != nil {
				logger.Logger.Warn("stream encode failed", zap.Error(err))
				continue
			}
			for _, f := range frames {
				if _, werr := c.Writer.Write(f); werr != nil {
					return
				}
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			emit(parser.Process(buf[:n]))
		}
		if readErr != nil {
			emit(parser.Finish())
			if !useAnthropic {
				_, _ = c.Writer.Write([]byte(streaming.SSEDone))
			}
			return
		}
	}
}

// eventEncoder is the shape both streaming/openaisse and streaming/
// anthropicsse's per-stream encoder state satisfy; openaisse.New() returns
// an unexported type, so callers outside that package can only hold it
// through an interface like this one.
type eventEncoder interface {
	Encode(streaming.Event) ([][]byte, error)
}

const openaiEncoderKey = "openai_sse_encoder"

func (h *Handlers) openaiEncoder(c *gin.Context) eventEncoder {
	if v, ok := c.Get(openaiEncoderKey); ok {
		return v.(eventEncoder)
	}
	s := openaisse.New()
	c.Set(openaiEncoderKey, s)
	return s
}

func endpointFromPath(path string) gwconfig.EndpointKey {
	switch {
	case strings.Contains(path, "/cursor"):
		return gwconfig.EndpointCursor
	case strings.Contains(path, "/claude_code"), strings.Contains(path, "/claude"):
		return gwconfig.EndpointClaudeCode
	case strings.Contains(path, "/codex"):
		return gwconfig.EndpointCodex
	case strings.Contains(path, "/windsurf"):
		return gwconfig.EndpointWindsurf
	case strings.Contains(path, "/kiro"):
		return gwconfig.EndpointKiro
	default:
		return gwconfig.EndpointOther
	}
}

func bindLoose(body []byte, req *chatRequest) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, req)
}
