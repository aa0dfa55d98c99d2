package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	analyticsdomain "github.com/smallbiznis/memberly/internal/analytics/domain"
)

// GetAnalytics serves the revenue report for one month and category. The
// month accepts "YYYY-MM", a month name, or empty for the current month.
func (s *Server) GetAnalytics(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	category := strings.ToLower(strings.TrimSpace(c.Query("category")))
	if category == "" {
		category = analyticsdomain.CategoryAll
	}

	month, err := analyticsdomain.ParseMonth(c.Query("month"), s.clock.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	include := false
	if raw := strings.TrimSpace(c.Query("include_maintenance_fee")); raw != "" {
		include, err = strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError(
				"include_maintenance_fee",
				"invalid_include_maintenance_fee",
				"invalid include_maintenance_fee",
			))
			return
		}
	}

	report, err := s.analyticsSvc.GetReport(c.Request.Context(), analyticsdomain.Request{
		OrgID:                 orgID,
		Category:              category,
		Month:                 month,
		IncludeMaintenanceFee: include,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
