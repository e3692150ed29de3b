package gateway

import (
	"net/http"
	"time"

	"github.com/roach88/tabsync/internal/identity"
)

// sessionView is the read model returned by GET /v1/session and by the
// mutating session endpoints.
type sessionView struct {
	Authenticated bool      `json:"authenticated"`
	User          *userView `json:"user,omitempty"`
	Session       *sessView `json:"session,omitempty"`
	IsLoading     bool      `json:"is_loading"`
	Error         string    `json:"error,omitempty"`
	Valid         bool      `json:"valid"`
	Expiring      bool      `json:"expiring"`
	RemainingMs   int64     `json:"remaining_ms"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sessView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) sessionView() sessionView {
	state := s.sessions.State()
	view := sessionView{
		Authenticated: state.IsAuthenticated(),
		IsLoading:     state.IsLoading,
		Error:         state.Err,
		Valid:         s.sessions.HasValidSession(),
		Expiring:      s.sessions.IsSessionExpiring(),
		RemainingMs:   s.sessions.SessionTimeRemaining().Milliseconds(),
	}
	if state.User != nil {
		view.User = &userView{ID: state.User.ID, Email: state.User.Email, Name: state.User.Name}
	}
	if state.Session != nil {
		view.Session = &sessView{
			ID:        state.Session.ID,
			UserID:    state.Session.UserID,
			ExpiresAt: state.Session.ExpiresAt,
		}
	}
	return view
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.sessions.Login(r.Context(), req.Email, req.Password); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.sessions.Signup(r.Context(), req.Email, req.Password, req.Name); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.sessionView())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(r.Context())
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.RefreshSession(r.Context()); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  *string `json:"name,omitempty"`
		Email *string `json:"email,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == nil && req.Email == nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "no profile changes given")
		return
	}

	changes := identity.ProfileChanges{Name: req.Name, Email: req.Email}
	if err := s.sessions.UpdateProfile(r.Context(), changes); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.sessions.ResetPassword(r.Context(), req.Email); err != nil {
		writeAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset requested"})
}
