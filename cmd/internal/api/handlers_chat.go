package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"hearth/cmd/internal/chat"

	"github.com/go-chi/chi/v5"
)

type channelsResponse struct {
	Channels []chat.ChannelView `json:"channels"`
}

func (h *Handler) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := h.chat.ListChannels(r.Context(), userID(r), chi.URLParam(r, "familyID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if chs == nil {
		chs = []chat.ChannelView{}
	}
	writeJSON(w, http.StatusOK, channelsResponse{Channels: chs})
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !h.readRequest(w, r, &req) {
		return
	}
	msg, err := h.chat.PostMessage(r.Context(), userID(r), chi.URLParam(r, "channelID"), req.Body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q, ok := h.historyQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid history query: before is RFC 3339, beforeId requires before, limit is positive")
		return
	}
	hist, err := h.chat.ListMessages(r.Context(), userID(r), chi.URLParam(r, "channelID"), q)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if hist.Messages == nil {
		hist.Messages = []chat.MessageView{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) historyQuery(r *http.Request) (chat.HistoryQuery, bool) {
	q := chat.HistoryQuery{Limit: h.cfg.DefaultHistoryLimit}
	vals := r.URL.Query()
	if v := strings.TrimSpace(vals.Get("before")); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return chat.HistoryQuery{}, false
		}
		q.Before = t.UTC()
	}
	if v := strings.TrimSpace(vals.Get("beforeId")); v != "" {
		if q.Before.IsZero() {
			return chat.HistoryQuery{}, false
		}
		q.BeforeID = v
	}
	if v := strings.TrimSpace(vals.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return chat.HistoryQuery{}, false
		}
		q.Limit = n
	}
	return q, true
}
