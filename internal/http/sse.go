package http

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pollpass/internal/live"
)

const sseKeepAlive = 30 * time.Second

type sseVoteUpdate struct {
	PollID   string `json:"poll_id"`
	OptionID string `json:"option_id"`
	Votes    int64  `json:"votes"`
}

type ssePollEvent struct {
	PollID string `json:"poll_id"`
}

// allPollsSSE streams poll lifecycle events to the poll list view. The
// subscription is taken before the snapshot so nothing published in between
// is lost.
func (h *Handler) allPollsSSE(c *gin.Context) {
	events, cancel := h.broadcaster.Subscribe()
	defer cancel()

	polls, err := h.polls.ListPolls(c.Request.Context())
	if err != nil {
		h.renderPollError(c, err)
		return
	}
	snapshot := make([]pollResponse, 0, len(polls))
	for _, poll := range polls {
		snapshot = append(snapshot, pollToResponse(poll, false))
	}

	setStreamHeaders(c)
	c.SSEvent("init", snapshot)
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			switch event.Kind {
			case live.EventVoteUpdate:
				c.SSEvent("poll_updated", ssePollEvent{PollID: event.PollID.String()})
			default:
				c.SSEvent(string(event.Kind), ssePollEvent{PollID: event.PollID.String()})
			}
			return true
		case <-keepAlive.C:
			c.SSEvent("keep_alive", "ping")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// pollUpdatesSSE streams tally changes for a single poll.
func (h *Handler) pollUpdatesSSE(c *gin.Context) {
	pollID, ok := parseID(c)
	if !ok {
		return
	}

	events, cancel := h.broadcaster.Subscribe()
	defer cancel()

	poll, err := h.polls.GetPoll(c.Request.Context(), pollID)
	if err != nil {
		h.renderPollError(c, err)
		return
	}

	setStreamHeaders(c)
	c.SSEvent("init", pollToResponse(*poll, false))
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			if event.PollID != pollID {
				return true
			}
			switch event.Kind {
			case live.EventVoteUpdate:
				c.SSEvent("vote_update", sseVoteUpdate{
					PollID:   event.PollID.String(),
					OptionID: event.OptionID.String(),
					Votes:    event.Votes,
				})
			default:
				c.SSEvent(string(event.Kind), ssePollEvent{PollID: event.PollID.String()})
			}
			return true
		case <-keepAlive.C:
			c.SSEvent("keep_alive", "ping")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func setStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
}
