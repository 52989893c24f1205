package server

import (
	"net/http"
	"time"

	"github.com/0xsequence/identity-verifier/api"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/sessioncache"
)

// authView is an account response with the access token withheld. The token stays in the session
// cache.
type authView struct {
	Authenticated bool                `json:"authenticated"`
	Message       string              `json:"message,omitempty"`
	DigitalID     string              `json:"digitalId,omitempty"`
	Identity      *proto.UserIdentity `json:"userInfo,omitempty"`
	TokenExpiry   string              `json:"tokenExpiry,omitempty"`
	CapturedAt    int64               `json:"timestamp,omitempty"`
	LoginHistory  []proto.LoginEvent  `json:"loginHistory,omitempty"`
}

func newAuthView(res *api.AuthResult) authView {
	view := authView{
		Authenticated: res.HasToken(),
		Identity:      res.Identity,
	}
	if res.AuthResponse != nil {
		view.Message = res.Message
		view.DigitalID = res.DigitalID
		view.TokenExpiry = string(res.TokenExpiry)
		view.LoginHistory = res.LoginHistory
	}
	if view.DigitalID == "" && res.Identity != nil {
		view.DigitalID = res.Identity.DigitalID
	}
	return view
}

func (s *Server) getAuth(w http.ResponseWriter, r *http.Request) {
	record, ok := s.Account.Current(r.Context())
	if !ok {
		proto.RespondWithError(w, proto.ErrNotAuthenticated)
		return
	}
	view := authView{
		Authenticated: true,
		DigitalID:     record.DigitalID,
		Identity:      record.Identity,
		TokenExpiry:   record.TokenExpiry,
		CapturedAt:    record.CapturedAt,
	}
	if exp, ok := sessioncache.Expiry(record); ok && view.TokenExpiry == "" {
		view.TokenExpiry = exp.UTC().Format(time.RFC3339)
	}
	proto.RespondWithJSON(w, http.StatusOK, view)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := s.Account.Logout(r.Context()); err != nil {
		proto.RespondWithError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var params proto.RegistrationParams
	if !decodeJSON(w, r, &params) {
		return
	}
	res, err := s.Account.Register(r.Context(), &params)
	s.respondWithAuth(w, res, err)
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !decodeJSON(w, r, &params) {
		return
	}
	res, err := s.Account.Login(r.Context(), &params)
	s.respondWithAuth(w, res, err)
}

func (s *Server) loginWithDigitalID(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !decodeJSON(w, r, &params) {
		return
	}
	res, err := s.Account.LoginWithDigitalID(r.Context(), params.DigitalID)
	s.respondWithAuth(w, res, err)
}

func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !decodeJSON(w, r, &params) {
		return
	}
	res, err := s.Account.CompleteLogin(r.Context(), &params)
	s.respondWithAuth(w, res, err)
}

func (s *Server) verifyBiometric(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !decodeJSON(w, r, &params) {
		return
	}
	res, err := s.Account.VerifyBiometric(r.Context(), &params)
	s.respondWithAuth(w, res, err)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	res, err := s.Account.Profile(r.Context())
	if err != nil {
		proto.RespondWithError(w, err)
		return
	}
	view := newAuthView(res)
	view.Authenticated = true
	proto.RespondWithJSON(w, http.StatusOK, view)
}

func (s *Server) respondWithAuth(w http.ResponseWriter, res *api.AuthResult, err error) {
	if err != nil {
		proto.RespondWithError(w, err)
		return
	}
	proto.RespondWithJSON(w, http.StatusOK, newAuthView(res))
}
