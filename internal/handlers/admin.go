package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/alexus-backend/internal/db"
	"github.com/slotter-org/alexus-backend/internal/errordata"
	"github.com/slotter-org/alexus-backend/internal/logger"
)

type AdminHandler struct {
	log   *logger.Logger
	store db.Service
}

func NewAdminHandler(log *logger.Logger, store db.Service) *AdminHandler {
	return &AdminHandler{log: log.With("handler", "AdminHandler"), store: store}
}

// InitDB creates the tables and indexes if they are missing. It is safe to
// call repeatedly.
func (ah *AdminHandler) InitDB(c *gin.Context) {
	if err := ah.store.AutoMigrateAll(); err != nil {
		errordata.Record(c.Request.Context(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to initialize database"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Database initialized"})
}

func (ah *AdminHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := ah.store.Ping(ctx); err != nil {
		errordata.Record(c.Request.Context(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": "down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "up"})
}
