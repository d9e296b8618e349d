package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/rlcf"
)

// userFeedbackHandler handles POST /api/v1/feedback/user.
func (s *Server) userFeedbackHandler(c *gin.Context) {
	var req UserFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errValidation, Detail: err.Error()})
		return
	}

	fb := &models.UserFeedback{
		TraceID:            req.TraceID,
		Rating:             req.Rating,
		Comment:            req.Comment,
		CategoryRatings:    req.CategoryRatings,
		MissingInformation: req.MissingInformation,
	}
	if err := s.deps.Feedback.SaveUserFeedback(c.Request.Context(), fb); err != nil {
		s.mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, FeedbackResponse{FeedbackID: fb.ID})
}

// expertFeedbackHandler handles POST /api/v1/feedback/expert. The review
// goes through the community-feedback evaluation, which normalizes the
// rating and reports whether the retrain threshold is now crossed.
func (s *Server) expertFeedbackHandler(c *gin.Context) {
	var req ExpertFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errValidation, Detail: err.Error()})
		return
	}

	id, crossed, err := s.deps.Reviewer.RecordReview(c.Request.Context(), rlcf.Review{
		TraceID:         req.TraceID,
		ExpertID:        req.ExpertID,
		AuthorityWeight: req.AuthorityWeight,
		Corrections:     req.Corrections,
		OverallRating:   req.OverallRating,
	})
	if err != nil {
		s.mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, FeedbackResponse{
		FeedbackID:              id,
		RetrainThresholdCrossed: crossed,
	})
}

// entityFeedbackHandler handles POST /api/v1/feedback/entity.
func (s *Server) entityFeedbackHandler(c *gin.Context) {
	var req EntityFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errValidation, Detail: err.Error()})
		return
	}

	fb := &models.EntityFeedback{
		TraceID: req.TraceID,
		Kind:    models.EntityCorrectionKind(req.Kind),
		Span:    models.EntitySpan(req.Span),
	}
	if err := s.deps.Feedback.SaveEntityFeedback(c.Request.Context(), fb); err != nil {
		s.mapServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, FeedbackResponse{FeedbackID: fb.ID})
}
