package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/requestdata"
	"github.com/slotter-org/alexus-backend/internal/socket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WsHandler upgrades the request and subscribes the socket to its owner's
// conversation events.
func WsHandler(hub *socket.Hub, log *logger.Logger) gin.HandlerFunc {
	wsLog := log.With("handler", "WsHandler")
	return func(c *gin.Context) {
		userID := strings.TrimSpace(requestdata.UserIDFrom(c.Request.Context()))
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			wsLog.Warn("Failed to upgrade to websocket", "error", err)
			return
		}
		client := socket.NewClient(conn, hub, userID, wsLog)
		hub.Subscribe(client, []string{socket.UserChannel(userID)})

		// Run blocks until the socket closes.
		client.Run(c.Request.Context())
	}
}
