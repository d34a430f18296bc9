package server

import (
	"net/http"
	"time"

	"github.com/xaenox/carebot/internal/companion"
	"github.com/xaenox/carebot/internal/guidance"
	"github.com/xaenox/carebot/internal/models"
	"github.com/xaenox/carebot/internal/topics"
)

type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}

type tokenRequest struct {
	UserID string `json:"user_id"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

func (s *Server) issueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		s.writeError(w, r, models.NewValidationError("user_id", "is required"))
		return
	}

	token, err := s.tokens.Issue(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenResponse{Token: token, ExpiresIn: int(s.tokens.TTL().Seconds())})
}

func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	var req companion.TurnRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.UserID != "" && !s.authorized(r, req.UserID) {
		forbidden(w)
		return
	}

	result, err := s.companion.HandleTurn(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// userID resolves and authorizes the {userId} path value
func (s *Server) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.PathValue("userId")
	if !s.authorized(r, userID) {
		forbidden(w)
		return "", false
	}
	return userID, true
}

type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	messages, err := s.companion.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

type photoRequest struct {
	ImageURL      string `json:"image_url"`
	ImageAnalysis string `json:"image_analysis"`
}

func (s *Server) startPhotoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req photoRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ImageURL == "" && req.ImageAnalysis == "" {
		s.writeError(w, r, models.NewValidationError("image_url", "image_url or image_analysis is required"))
		return
	}

	session, err := s.companion.StartPhotoSession(r.Context(), userID, req.ImageURL, req.ImageAnalysis)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) activePhotoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	session, err := s.companion.ActivePhotoSession(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if session == nil {
		s.writeError(w, r, &models.NotFoundError{Resource: "photo session", ID: userID})
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) endPhotoHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.companion.EndPhotoSession(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getTraumaHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	info, err := s.guard.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type traumaRequest struct {
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
}

func (s *Server) saveTraumaHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req traumaRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := s.guard.Save(r.Context(), userID, req.Keywords, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) deleteTraumaHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	if err := s.guard.Delete(r.Context(), userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	Text string `json:"text"`
}

func (s *Server) checkTraumaHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.guard.Check(r.Context(), userID, req.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type TopicsResponse struct {
	Topics []models.EffectiveTopic `json:"topics"`
}

func (s *Server) topicsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, topics.DefaultTopLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	top, err := s.tracker.TopEffectiveTopics(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if top == nil {
		top = []models.EffectiveTopic{}
	}
	writeJSON(w, http.StatusOK, TopicsResponse{Topics: top})
}

type EffectivenessResponse struct {
	Keywords      []string `json:"keywords"`
	Effectiveness float64  `json:"effectiveness"`
}

func (s *Server) effectivenessHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	keywords := splitKeywords(r.URL.Query().Get("keywords"))
	if len(keywords) == 0 {
		s.writeError(w, r, models.NewValidationError("keywords", "is required"))
		return
	}

	score, err := s.tracker.EffectivenessOf(r.Context(), userID, keywords)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EffectivenessResponse{Keywords: topics.Normalize(keywords), Effectiveness: score})
}

func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	report, err := s.companion.EndSession(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

type ReportsResponse struct {
	Reports []models.Report `json:"reports"`
}

func (s *Server) reportsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r, 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.companion.Reports(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Report{}
	}
	writeJSON(w, http.StatusOK, ReportsResponse{Reports: list})
}

func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.companion.Report(r.Context(), r.PathValue("reportId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !s.authorized(r, report.UserID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type GuidanceResponse struct {
	Guidance string   `json:"guidance"`
	Triggers []string `json:"triggers,omitempty"`
}

func (s *Server) guidanceHandler(w http.ResponseWriter, r *http.Request) {
	if stage := r.URL.Query().Get("stage"); stage != "" {
		text, err := s.guidance.Stage(guidance.Stage(stage))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, GuidanceResponse{Guidance: text})
		return
	}

	input := r.URL.Query().Get("input")
	writeJSON(w, http.StatusOK, GuidanceResponse{
		Guidance: s.guidance.Retrieve(input),
		Triggers: s.guidance.MatchedTriggers(input),
	})
}
