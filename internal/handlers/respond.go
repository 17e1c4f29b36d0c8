package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/slotter-org/alexus-backend/internal/apperr"
	"github.com/slotter-org/alexus-backend/internal/errordata"
)

// respondError replies {"error": reason} with the status for err's kind and
// leaves the full error for the request logger.
func respondError(c *gin.Context, err error) {
	errordata.Record(c.Request.Context(), err)
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Reason(err)})
}

func respondBadBody(c *gin.Context, err error) {
	errordata.Record(c.Request.Context(), err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
}

func conversationIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return uint(id), true
}
