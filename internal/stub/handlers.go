package stub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatprobe/internal/core"
	"github.com/vovakirdan/chatprobe/internal/proto"
)

// SendHandlers serves the message submission endpoint.
type SendHandlers struct {
	hub          *Hub
	echoToSender bool
	now          func() time.Time
	log          *zerolog.Logger
}

// NewSendHandlers creates the send endpoint handlers.
func NewSendHandlers(hub *Hub, echoToSender bool, logger *zerolog.Logger) *SendHandlers {
	return &SendHandlers{
		hub:          hub,
		echoToSender: echoToSender,
		now:          time.Now,
		log:          logger,
	}
}

// Send stores nothing; it pushes the message to the receiver's room.
// POST /api/group_chat/add-group_chat
func (h *SendHandlers) Send(c *gin.Context) {
	var req proto.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.ReceiverID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reciever_id is required"})
		return
	}
	if req.IsGroupChat {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "group chats are not supported"})
		return
	}

	media := json.RawMessage("[]")
	if len(req.MediaURL) > 0 {
		raw, err := json.Marshal(req.MediaURL)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid media_url"})
			return
		}
		media = raw
	}

	senderID := c.GetInt64(ContextKeyUserID)
	msg := proto.Message{
		Message:    req.Message,
		SenderID:   senderID,
		ReceiverID: req.ReceiverID,
		Timestamp:  core.FormatTimestamp(h.now()),
		MediaURL:   media,
	}

	delivered := h.hub.Deliver(req.ReceiverID, msg)
	if h.echoToSender && senderID != 0 && senderID != req.ReceiverID {
		delivered += h.hub.Deliver(senderID, msg)
	}

	h.log.Info().
		Int64("sender_id", senderID).
		Int64("receiver_id", req.ReceiverID).
		Int("delivered", delivered).
		Msg("message accepted")
	c.JSON(http.StatusOK, proto.SendResponse{Status: true, Message: "message sent", Data: msg})
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
