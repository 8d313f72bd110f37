package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/user/tiktok-scheduler-go/internal/model"
	"github.com/user/tiktok-scheduler-go/internal/service"
	"github.com/user/tiktok-scheduler-go/internal/store"
)

// ErrorResponse is the body of every non-2xx API reply
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError maps service and store errors to HTTP status codes
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	resp := ErrorResponse{Error: err.Error()}
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrVideoBooked):
		code = http.StatusConflict
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
	case errors.As(err, &ve):
		code = http.StatusBadRequest
		resp.Field = ve.Field
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	}

	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("API request failed")
		RecordError("api")
		resp.Error = "internal server error"
	}
	writeJSON(w, code, resp)
}

func badRequest(w http.ResponseWriter, field, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Field: field})
}

// pathID parses the {id} URL parameter
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		badRequest(w, "id", fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return uint(id), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "body", fmt.Sprintf("invalid JSON: %v", err))
		return false
	}
	return true
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Videos

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	videos, err := s.svc.ListVideos(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

func (s *Server) handleUploadVideo(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		// multipart framing needs a little room beyond the file itself
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file", fmt.Sprintf("multipart field \"file\" is required: %v", err))
		return
	}
	defer file.Close()

	video, err := s.svc.UploadVideo(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, video)
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	video, err := s.svc.GetVideo(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (s *Server) handleDeleteVideo(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteVideo(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Profiles

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.svc.ListProfiles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var in service.ProfileInput
	if !decodeBody(w, r, &in) {
		return
	}
	profile, err := s.svc.CreateProfile(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	profile, err := s.svc.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in service.ProfileUpdate
	if !decodeBody(w, r, &in) {
		return
	}
	profile, err := s.svc.UpdateProfile(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteProfile(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Schedules

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.ScheduleFilter

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, model.ScheduleStatus(strings.TrimSpace(part)))
		}
	}
	for key, dst := range map[string]*uint{"profile_id": &filter.ProfileID, "video_id": &filter.VideoID} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, key, fmt.Sprintf("invalid %s %q", key, raw))
			return
		}
		*dst = uint(n)
	}

	schedules, err := s.svc.ListSchedules(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var in service.CreateScheduleInput
	if !decodeBody(w, r, &in) {
		return
	}
	sch, err := s.svc.CreateSchedule(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	var in service.CreateScheduleInput
	if !decodeBody(w, r, &in) {
		return
	}
	sch, err := s.svc.PublishNow(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sch)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sch, err := s.svc.GetSchedule(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in service.UpdateScheduleInput
	if !decodeBody(w, r, &in) {
		return
	}
	sch, err := s.svc.UpdateSchedule(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteSchedule(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sch, err := s.svc.CancelSchedule(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) handleRescheduleNow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sch, err := s.svc.RescheduleNow(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sch)
}
