package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReconcileOrg runs a synchronous sweep for one org and returns its summary.
func (s *Server) ReconcileOrg(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.reconcileSvc.SyncOrg(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
