package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/DreamFate/DeepClaude/internal/client"
)

const doneEvent = "data: [DONE]\n\n"

// ChatCompletions handles POST /v1/chat/completions. The dispatcher decides
// the response shape: canonical stream, verbatim byte stream, or a single
// JSON document.
func (s *Server) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeChatError(c, fmt.Errorf("failed to read request body: %w", err))
		return
	}

	result, err := s.dispatcher.ProcessRequest(c.Request.Context(), body)
	if err != nil {
		logrus.Errorf("chat completion failed: %v", err)
		writeChatError(c, err)
		return
	}
	defer result.Release()

	switch {
	case result.Completion != nil:
		c.JSON(http.StatusOK, result.Completion)
	case result.RawJSON != nil:
		c.Data(http.StatusOK, "application/json", result.RawJSON)
	case result.Stream != nil:
		s.streamChunks(c, result.Stream)
	case result.Raw != nil:
		s.streamRaw(c, result.Raw)
	}
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
}

// streamChunks writes canonical chunks as SSE events, closing with [DONE].
// A mid-stream upstream failure is logged and the stream ends; the status
// line is already on the wire at that point.
func (s *Server) streamChunks(c *gin.Context, stream *client.ChunkStream) {
	setSSEHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeChatError(c, fmt.Errorf("streaming is not supported"))
		return
	}

	c.Stream(func(w io.Writer) bool {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				logrus.Errorf("stream ended with error: %v", err)
			}
			io.WriteString(w, doneEvent)
			flusher.Flush()
			return false
		}
		payload, err := json.Marshal(stream.Current())
		if err != nil {
			logrus.Errorf("failed to encode chunk: %v", err)
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return true
	})
}

// streamRaw relays upstream bytes verbatim for origin_output models. No SSE
// framing is added or removed, so event lines and the upstream's own [DONE]
// marker reach the caller exactly as sent.
func (s *Server) streamRaw(c *gin.Context, stream *client.RawStream) {
	setSSEHeaders(c)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		writeChatError(c, fmt.Errorf("streaming is not supported"))
		return
	}

	c.Stream(func(w io.Writer) bool {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				logrus.Errorf("stream ended with error: %v", err)
			}
			return false
		}
		w.Write(stream.Current())
		flusher.Flush()
		return true
	})
}

// CancelRequest handles POST /v1/cancel, firing the cancel signal for an
// in-flight chat id.
func (s *Server) CancelRequest(c *gin.Context) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ChatID == "" {
		c.JSON(http.StatusBadRequest, newChatError("chat_id is required", "parameter error"))
		return
	}

	if s.dispatcher.CancelRequest(req.ChatID) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "success",
			"message": fmt.Sprintf("request %s canceled", req.ChatID),
		})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{
		"status":  "error",
		"message": fmt.Sprintf("request %s not found or already finished", req.ChatID),
	})
}

const modelListCreated = 1740268800

// ListModels handles GET /v1/models: every enabled model and composite in
// the OpenAI model-list shape.
func (s *Server) ListModels(c *gin.Context) {
	models, err := s.store.ListModels()
	if err != nil {
		writeChatError(c, err)
		return
	}
	composites, err := s.store.ListComposites()
	if err != nil {
		writeChatError(c, err)
		return
	}

	data := make([]gin.H, 0, len(models)+len(composites))
	for _, model := range models {
		if model.Valid {
			data = append(data, modelEntry(model.Name))
		}
	}
	for _, comp := range composites {
		if comp.Valid {
			data = append(data, modelEntry(comp.Name))
		}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func modelEntry(name string) gin.H {
	return gin.H{
		"id":       name,
		"object":   "model",
		"created":  modelListCreated,
		"owned_by": "deepclaude",
		"permission": []gin.H{{
			"id":                   "modelperm-" + name,
			"object":               "model_permission",
			"created":              modelListCreated,
			"allow_create_engine":  false,
			"allow_sampling":       true,
			"allow_logprobs":       true,
			"allow_search_indices": false,
			"allow_view":           true,
			"allow_fine_tuning":    false,
			"organization":         "*",
			"group":                nil,
			"is_blocking":          false,
		}},
		"root":   "deepclaude",
		"parent": nil,
	}
}
