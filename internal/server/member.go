package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	memberdomain "github.com/smallbiznis/memberly/internal/member/domain"
	plandomain "github.com/smallbiznis/memberly/internal/plan/domain"
	"github.com/smallbiznis/memberly/pkg/db/option"
	"github.com/smallbiznis/memberly/pkg/db/pagination"
)

func (s *Server) ListMembers(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	var query struct {
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	size := query.PageSize
	if size <= 0 {
		size = 10
	}

	members, err := s.members.Find(c.Request.Context(), &memberdomain.Member{OrgID: orgID},
		option.WithSortBy("created_at DESC"),
		option.ApplyPagination(query.Pagination),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.BuildCursorPageInfo(members, int32(size), func(m *memberdomain.Member) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        m.ID.String(),
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(members) > size {
		members = members[:size]
	}

	c.JSON(http.StatusOK, gin.H{"data": members, "page_info": pageInfo})
}

func (s *Server) GetMember(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	memberID, err := pathID(c, "member_id")
	if err != nil {
		AbortWithError(c, newValidationError("member_id", "invalid_member_id", "invalid member_id"))
		return
	}

	member, err := s.members.FindOne(c.Request.Context(), &memberdomain.Member{ID: memberID, OrgID: orgID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if member == nil {
		AbortWithError(c, memberdomain.ErrMemberNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": member})
}

func (s *Server) ListMemberMemberships(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}
	memberID, err := pathID(c, "member_id")
	if err != nil {
		AbortWithError(c, newValidationError("member_id", "invalid_member_id", "invalid member_id"))
		return
	}

	member, err := s.members.FindOne(c.Request.Context(), &memberdomain.Member{ID: memberID, OrgID: orgID})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if member == nil {
		AbortWithError(c, memberdomain.ErrMemberNotFound)
		return
	}

	memberships, err := s.memberships.ListByMember(c.Request.Context(), memberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": memberships})
}

func (s *Server) ListPlans(c *gin.Context) {
	orgID, ok := orgFromRequest(c)
	if !ok {
		AbortWithError(c, invalidRequestError())
		return
	}

	plans, err := s.plans.Find(c.Request.Context(), &plandomain.Plan{OrgID: orgID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}
