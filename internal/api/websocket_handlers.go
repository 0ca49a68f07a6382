// internal/api/websocket_handlers.go
package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/PersonaKit/internal/errors"
	"github.com/Corphon/PersonaKit/internal/models"
	"github.com/Corphon/PersonaKit/internal/services"
)

// 客户端 → 服务端
type inboundFrame struct {
	Type    string `json:"type"` // message | ping
	Content string `json:"content,omitempty"`
}

// 服务端 → 客户端
type outboundFrame struct {
	Type       string          `json:"type"` // connected | fragment | done | error | pong
	DialogueID string          `json:"dialogue_id"`
	MessageID  string          `json:"message_id,omitempty"`
	Fragment   string          `json:"fragment,omitempty"`
	Message    *models.Message `json:"message,omitempty"`
	Error      *APIError       `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// DialogueWebSocket 以流的方式发送对话消息：每条 message 帧触发一轮流式回复
func (h *Handler) DialogueWebSocket(c *gin.Context) {
	dialogueID := c.Param("id")
	if _, err := h.svc.Dialogues.Get(dialogueID); err != nil {
		h.Response.FromError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.svc.Logger.Warn("websocket upgrade failed", map[string]interface{}{"dialogue": dialogueID, "error": err})
		return
	}
	client := newWebSocketClient(conn, dialogueID)
	h.WebSocket.register(client)
	defer h.WebSocket.unregister(client)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	inbound := make(chan inboundFrame, 8)
	go func() {
		defer close(inbound)
		defer cancel()
		for {
			var frame inboundFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			select {
			case inbound <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	_ = client.WriteJSON(outboundFrame{Type: "connected", DialogueID: dialogueID, Timestamp: time.Now()})

	for frame := range inbound {
		switch frame.Type {
		case "ping":
			_ = client.WriteJSON(outboundFrame{Type: "pong", DialogueID: dialogueID, Timestamp: time.Now()})
		case "message":
			h.streamTurn(ctx, client, dialogueID, frame.Content)
		default:
			h.writeFrameError(client, dialogueID,
				apperrors.NewValidationError("unknown frame type: "+frame.Type, nil))
		}
	}
}

func (h *Handler) streamTurn(ctx context.Context, client *WebSocketClient, dialogueID, content string) {
	if strings.TrimSpace(content) == "" {
		h.writeFrameError(client, dialogueID, apperrors.NewValidationError("message content is required", nil))
		return
	}
	msg, err := h.svc.Dialogues.SendMessageStream(ctx, dialogueID, content, func(ev services.StreamEvent) {
		if ev.Done {
			return
		}
		_ = client.WriteJSON(outboundFrame{
			Type:       "fragment",
			DialogueID: ev.DialogueID,
			MessageID:  ev.MessageID,
			Fragment:   ev.Fragment,
			Timestamp:  time.Now(),
		})
	})
	if err != nil {
		h.writeFrameError(client, dialogueID, err)
		return
	}
	_ = client.WriteJSON(outboundFrame{
		Type:       "done",
		DialogueID: dialogueID,
		MessageID:  msg.ID,
		Message:    msg,
		Timestamp:  time.Now(),
	})
}

func (h *Handler) writeFrameError(client *WebSocketClient, dialogueID string, err error) {
	_, code := classify(err)
	_ = client.WriteJSON(outboundFrame{
		Type:       "error",
		DialogueID: dialogueID,
		Error: &APIError{
			Code:    code,
			Kind:    string(apperrors.KindOf(err)),
			Message: sanitizeErrorMessage(err.Error()),
		},
		Timestamp: time.Now(),
	})
}
