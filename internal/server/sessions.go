package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/framestep/internal/errors"
	"github.com/zsiec/framestep/internal/logger"
	"github.com/zsiec/framestep/internal/navigator"
	"github.com/zsiec/framestep/internal/session"
)

// Response headers describing a still.
const (
	headerFrameIndex = "X-Frame-Index"
	headerFrameTime  = "X-Frame-Time"
	headerStillCache = "X-Still-Cache"
)

const maxRequestBody = 1 << 16

// OpenSessionRequest is the body of POST /api/v1/sessions.
type OpenSessionRequest struct {
	Path string  `json:"path"`
	FPS  float64 `json:"fps,omitempty"`
}

// SeekRequest is the body of POST /api/v1/sessions/{id}/seek.
type SeekRequest struct {
	Frame *int `json:"frame"`
}

// SessionListResponse is the body of GET /api/v1/sessions.
type SessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
	Count    int            `json:"count"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.sessions.Open(r.Context(), req.Path, req.FPS)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if s.stills != nil && sess.Fingerprint != "" {
		removed, err := s.stills.Revalidate(r.Context(), stillKey(sess, sess.Navigator()), sess.Fingerprint)
		if err != nil {
			logger.FromContext(r.Context()).WithError(err).Warn("Failed to revalidate cached stills")
		} else if removed > 0 {
			logger.FromContext(r.Context()).WithField("removed", removed).Info("Dropped stills of a changed file")
		}
	}

	w.Header().Set("Location", "/api/v1/sessions/"+sess.ID)
	s.writeJSON(w, r, http.StatusCreated, sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	resp := SessionListResponse{
		Sessions: make([]session.Info, 0, len(sessions)),
		Count:    len(sessions),
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, sess.Info())
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session.Session) {})
}

// handleCloseSession closes a session. With ?purge=true the stills cached
// for its video are dropped as well.
func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	purge := false
	if raw := r.URL.Query().Get("purge"); raw != "" {
		var err error
		if purge, err = strconv.ParseBool(raw); err != nil {
			s.writeError(w, r, apperrors.NewValidationError("purge must be a boolean"))
			return
		}
	}

	if purge && s.stills != nil {
		sess, err := s.sessions.Get(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if _, err := s.stills.Invalidate(r.Context(), stillKey(sess, sess.Navigator())); err != nil {
			logger.FromContext(r.Context()).WithError(err).Error("Failed to purge cached stills")
			s.writeError(w, r, apperrors.NewServiceDownError("still cache"))
			return
		}
	}

	if err := s.sessions.Close(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Frame == nil {
		s.writeError(w, r, apperrors.NewValidationError("frame is required"))
		return
	}

	s.withSession(w, r, func(sess *session.Session) {
		sess.Navigator().GoToFrame(*req.Frame)
	})
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session.Session) {
		sess.Navigator().NextFrame()
	})
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(sess *session.Session) {
		sess.Navigator().PreviousFrame()
	})
}

// withSession resolves the {id} route variable, applies op and writes the
// resulting session state.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, op func(*session.Session)) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	op(sess)

	s.writeJSON(w, r, http.StatusOK, sess.Info())
}

func (s *Server) handleStill(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nav := sess.Navigator()
	log := logger.FromContext(r.Context()).WithField("session_id", sess.ID)

	frame := nav.CurrentFrame()
	if raw := r.URL.Query().Get("frame"); raw != "" {
		frame, err = strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, apperrors.NewValidationError("frame must be an integer"))
			return
		}
	}

	key := stillKey(sess, nav)
	cacheable := s.stills != nil && frame >= 0 && frame < nav.TotalFrames()
	if cacheable {
		still, ok, err := s.stills.Get(r.Context(), key, frame)
		if err != nil {
			log.WithError(err).Warn("Still cache lookup failed")
		}
		if ok {
			s.writeStill(w, r, still, "hit")
			return
		}
	}

	still, ok := nav.ExtractFrameAt(r.Context(), frame)
	if !ok {
		s.writeError(w, r, apperrors.NewStillUnavailableError(frame))
		return
	}

	if s.stills != nil {
		if err := s.stills.Put(r.Context(), key, still); err != nil {
			log.WithError(err).Warn("Failed to cache still")
		}
	}

	s.writeStill(w, r, still, "miss")
}

func (s *Server) writeStill(w http.ResponseWriter, r *http.Request, still *navigator.Still, cache string) {
	w.Header().Set("Content-Type", still.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(still.Len()))
	w.Header().Set(headerFrameIndex, strconv.Itoa(still.Frame()))
	w.Header().Set(headerFrameTime, strconv.FormatFloat(still.Time(), 'f', 6, 64))
	if s.stills != nil {
		w.Header().Set(headerStillCache, cache)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(still.Bytes()); err != nil {
		logger.FromContext(r.Context()).WithError(err).Debug("Client went away while sending still")
	}
}

// stillKey identifies a video at a frame rate; the same file opened at
// another rate numbers its frames differently.
func stillKey(sess *session.Session, nav *navigator.Navigator) string {
	return fmt.Sprintf("%s@%g", sess.Path, nav.FPS())
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
