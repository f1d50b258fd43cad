package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pollpass/internal/domain"
	"pollpass/internal/live"
	"pollpass/internal/service"
)

type createPollRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Options     []string `json:"options" binding:"required"`
}

type castVoteRequest struct {
	OptionID string `json:"option_id" binding:"required"`
}

type pollOptionResponse struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

type pollResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	CreatorID   string               `json:"creator_id"`
	CreatedAt   string               `json:"created_at"`
	Closed      bool                 `json:"closed"`
	Options     []pollOptionResponse `json:"options"`
	TotalVotes  int64                `json:"total_votes"`
	UserVoted   bool                 `json:"user_voted"`
}

func (h *Handler) createPoll(c *gin.Context) {
	identity := currentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}

	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}

	poll, err := h.polls.CreatePoll(c.Request.Context(), identity.UserID, req.Title, req.Description, req.Options)
	if err != nil {
		h.renderPollError(c, err)
		return
	}

	h.broadcaster.Publish(live.Event{Kind: live.EventPollCreated, PollID: poll.ID})
	c.JSON(http.StatusCreated, pollToResponse(*poll, false))
}

func (h *Handler) listPolls(c *gin.Context) {
	identity := currentIdentity(c)
	polls, err := h.polls.ListPolls(c.Request.Context())
	if err != nil {
		h.renderPollError(c, err)
		return
	}

	resp := make([]pollResponse, 0, len(polls))
	for _, poll := range polls {
		voted := false
		if identity != nil {
			voted, _ = h.polls.HasVoted(c.Request.Context(), poll.ID, identity.UserID)
		}
		resp = append(resp, pollToResponse(poll, voted))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getPoll(c *gin.Context) {
	pollID, ok := parseID(c)
	if !ok {
		return
	}
	identity := currentIdentity(c)

	poll, err := h.polls.GetPoll(c.Request.Context(), pollID)
	if err != nil {
		h.renderPollError(c, err)
		return
	}

	voted := false
	if identity != nil {
		voted, _ = h.polls.HasVoted(c.Request.Context(), poll.ID, identity.UserID)
	}
	c.JSON(http.StatusOK, pollToResponse(*poll, voted))
}

func (h *Handler) castVote(c *gin.Context) {
	identity := currentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	pollID, ok := parseID(c)
	if !ok {
		return
	}

	var req castVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
		return
	}
	optionID, err := uuid.Parse(req.OptionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "invalid option id"))
		return
	}

	votes, err := h.polls.CastVote(c.Request.Context(), pollID, optionID, identity.UserID)
	if err != nil {
		h.renderPollError(c, err)
		return
	}

	h.broadcaster.Publish(live.Event{
		Kind:     live.EventVoteUpdate,
		PollID:   pollID,
		OptionID: optionID,
		Votes:    votes,
	})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "vote recorded"})
}

func (h *Handler) closePoll(c *gin.Context) {
	identity := currentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	pollID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.polls.ClosePoll(c.Request.Context(), pollID, identity.UserID); err != nil {
		h.renderPollError(c, err)
		return
	}

	h.broadcaster.Publish(live.Event{Kind: live.EventPollClosed, PollID: pollID})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "poll closed"})
}

func (h *Handler) restartPoll(c *gin.Context) {
	identity := currentIdentity(c)
	if identity == nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "missing identity"))
		return
	}
	pollID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.polls.RestartPoll(c.Request.Context(), pollID, identity.UserID); err != nil {
		h.renderPollError(c, err)
		return
	}

	h.broadcaster.Publish(live.Event{Kind: live.EventPollRestarted, PollID: pollID})
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "poll restarted"})
}

func (h *Handler) renderPollError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPoll):
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", err.Error()))
	case errors.Is(err, service.ErrPollNotFound):
		c.JSON(http.StatusNotFound, errorBody("poll_not_found", "poll not found"))
	case errors.Is(err, service.ErrOptionNotFound):
		c.JSON(http.StatusNotFound, errorBody("option_not_found", "poll option not found"))
	case errors.Is(err, service.ErrAlreadyVoted):
		c.JSON(http.StatusConflict, errorBody("already_voted", "user already voted on this poll"))
	case errors.Is(err, service.ErrPollClosed):
		c.JSON(http.StatusForbidden, errorBody("poll_closed", "poll is closed"))
	case errors.Is(err, service.ErrNotCreator):
		c.JSON(http.StatusForbidden, errorBody("forbidden", "only the poll creator may do this"))
	default:
		h.logger.WithError(err).Error("poll request failed")
		c.JSON(http.StatusInternalServerError, errorBody("internal_error", err.Error()))
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid_request", "invalid poll id"))
		return uuid.Nil, false
	}
	return id, true
}

func pollToResponse(poll domain.Poll, voted bool) pollResponse {
	options := make([]pollOptionResponse, 0, len(poll.Options))
	for _, opt := range poll.Options {
		options = append(options, pollOptionResponse{
			ID:    opt.ID.String(),
			Text:  opt.Text,
			Votes: opt.Votes,
		})
	}
	return pollResponse{
		ID:          poll.ID.String(),
		Title:       poll.Title,
		Description: poll.Description,
		CreatorID:   poll.CreatorID.String(),
		CreatedAt:   poll.CreatedAt.Format(time.RFC3339),
		Closed:      poll.Closed,
		Options:     options,
		TotalVotes:  poll.TotalVotes(),
		UserVoted:   voted,
	}
}
