package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/nostr-scheduler/internal/common"
	"github.com/dmitrijs2005/nostr-scheduler/internal/nostrx"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/models"
	"github.com/dmitrijs2005/nostr-scheduler/internal/server/services"
	"github.com/go-chi/chi/v5"
)

const archiveURLTTL = 15 * time.Minute

type scheduleRequest struct {
	NoteID    string    `json:"note_id"`
	DueAt     time.Time `json:"due_at"`
	AccountID string    `json:"account_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
}

type postView struct {
	ID           string     `json:"id"`
	NoteID       string     `json:"note_id"`
	AccountID    string     `json:"account_id,omitempty"`
	DueAt        time.Time  `json:"due_at"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	EventID      string     `json:"event_id,omitempty"`
	Permalink    string     `json:"permalink,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	Channel      string     `json:"channel,omitempty"`
}

// POST /api/posts
// 201: { "id": "...", "status": "pending" }
// 400: invalid input or undeliverable channel settings
// 404: unknown note or account
func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	id, err := s.posts.Schedule(r.Context(), services.ScheduleRequest{
		NoteID:    req.NoteID,
		DueAt:     req.DueAt,
		AccountID: req.AccountID,
		Channel:   req.Channel,
		Endpoint:  req.Endpoint,
	})
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNoteNotFound), errors.Is(err, common.ErrAccountNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, common.ErrInvalidArgument),
			errors.Is(err, common.ErrInvalidChannel),
			errors.Is(err, common.ErrMissingEndpoint),
			errors.Is(err, common.ErrMissingQueueTarget):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error(r.Context(), "schedule failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	s.logger.Info(r.Context(), "post scheduled via api", "post_id", id, "subject", subjectFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     id,
		"status": models.StatusPending,
	})
}

// GET /api/posts/{id}
func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, postView{
		ID:           post.ID,
		NoteID:       post.NoteID,
		AccountID:    post.AccountID,
		DueAt:        post.DueAt,
		Status:       string(post.Status),
		ErrorMessage: post.ErrorMessage,
		EventID:      post.EventID,
		Permalink:    post.Permalink,
		PublishedAt:  post.PublishedAt,
		Channel:      string(post.Channel),
	})
}

// POST /api/posts/{id}/publish
// 200: { "event_id": "..." }
// 404: unknown post
// 409: already published, being signed or failed
// 502: delivery or signing failed; the post is now failed
func (s *Server) publishNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	eventID, err := s.posts.PublishNow(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrNotFound):
			writeError(w, http.StatusNotFound, "post not found")
		case errors.Is(err, common.ErrAlreadyPublished), errors.Is(err, common.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	s.logger.Info(r.Context(), "post published via api", "post_id", id, "event_id", eventID, "subject", subjectFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID})
}

// GET /api/posts/{id}/archive
// 200: { "url": "..." } presigned for a short time
// 404: archive disabled or post has no signed event
func (s *Server) archiveURL(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "archive is not configured")
		return
	}
	post, ok := s.loadPost(w, r)
	if !ok {
		return
	}
	if post.Status != models.StatusPublished || post.SignedEvent == "" {
		writeError(w, http.StatusNotFound, "post has no archived event")
		return
	}

	ev, err := nostrx.Decode(post.SignedEvent)
	if err != nil {
		s.logger.Error(r.Context(), "stored event unreadable", "post_id", post.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	url, err := s.archive.URL(r.Context(), ev, archiveURLTTL)
	if err != nil {
		s.logger.Error(r.Context(), "presign archive url", "post_id", post.ID, "error", err)
		writeError(w, http.StatusBadGateway, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// POST /api/signing/trigger
// 202: a signing pass was requested
func (s *Server) triggerSigning(w http.ResponseWriter, r *http.Request) {
	s.posts.TriggerSigningQueue()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func (s *Server) loadPost(w http.ResponseWriter, r *http.Request) (*models.Post, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	post, err := s.posts.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
		} else {
			s.logger.Error(r.Context(), "load post", "post_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return nil, false
	}
	return post, true
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
