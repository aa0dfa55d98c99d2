package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/smallbiznis/memberly/internal/webhook/domain"
)

// HandleProviderWebhook ingests a signed provider event. Ignored event types
// are acknowledged so the provider does not retry them.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	orgID, err := pathID(c, "org_id")
	if err != nil {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org_id"))
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, orgID, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, webhookdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
