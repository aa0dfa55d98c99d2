package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	membershipdomain "github.com/smallbiznis/memberly/internal/membership/domain"
)

func (s *Server) CreateMembership(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req struct {
		MemberID string `json:"member_id" binding:"required"`
		PlanID   string `json:"plan_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	memberID, err := parseID(req.MemberID)
	if err != nil {
		AbortWithError(c, newValidationError("member_id", "invalid_member_id", "invalid member_id"))
		return
	}
	planID, err := parseID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}

	membership, err := s.membershipSvc.Create(c.Request.Context(), membershipdomain.CreateRequest{
		OrgID:    orgID,
		MemberID: memberID,
		PlanID:   planID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

func (s *Server) PauseMembership(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	membershipID, err := pathID(c, "membership_id")
	if err != nil {
		AbortWithError(c, newValidationError("membership_id", "invalid_membership_id", "invalid membership_id"))
		return
	}

	var req struct {
		DurationDays int `json:"duration_days" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	membership, err := s.membershipSvc.Pause(c.Request.Context(), membershipdomain.PauseRequest{
		OrgID:        orgID,
		MembershipID: membershipID,
		Duration:     time.Duration(req.DurationDays) * 24 * time.Hour,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

func (s *Server) ResumeMembership(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	membershipID, err := pathID(c, "membership_id")
	if err != nil {
		AbortWithError(c, newValidationError("membership_id", "invalid_membership_id", "invalid membership_id"))
		return
	}

	membership, err := s.membershipSvc.Resume(c.Request.Context(), orgID, membershipID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

func (s *Server) CancelMembership(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	membershipID, err := pathID(c, "membership_id")
	if err != nil {
		AbortWithError(c, newValidationError("membership_id", "invalid_membership_id", "invalid membership_id"))
		return
	}

	var req struct {
		Immediate bool `json:"immediate"`
	}
	// An empty body means a deferred, period-end cancellation.
	_ = c.ShouldBindJSON(&req)

	membership, err := s.membershipSvc.Cancel(c.Request.Context(), membershipdomain.CancelRequest{
		OrgID:        orgID,
		MembershipID: membershipID,
		Immediate:    req.Immediate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": membership})
}

func (s *Server) ListMemberships(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	memberships, err := s.memberships.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memberships})
}
