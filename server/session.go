package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/0xsequence/identity-verifier/capture"
	"github.com/0xsequence/identity-verifier/present"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/validator"
)

const (
	maxImageUpload = 10 << 20

	// maxResultWait stays under the request timeout of the router.
	maxResultWait = 25 * time.Second
)

type sessionResponse struct {
	Session    proto.VerificationSession `json:"session"`
	Validation validator.State           `json:"validation"`
}

type tokenRequest struct {
	Token   string `json:"token"`
	Service string `json:"service"`
}

type methodRequest struct {
	Method proto.VerificationMethod `json:"method"`
}

type captureResponse struct {
	Artifact proto.CaptureArtifact     `json:"artifact"`
	Session  proto.VerificationSession `json:"session"`
}

type startResponse struct {
	AttemptID string                    `json:"attemptId"`
	Session   proto.VerificationSession `json:"session"`
}

func (s *Server) respondWithSession(w http.ResponseWriter, status int) {
	proto.RespondWithJSON(w, status, sessionResponse{
		Session:    s.Orchestrator.Snapshot(),
		Validation: s.Validator.State(),
	})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	s.respondWithSession(w, http.StatusOK)
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	s.Orchestrator.Clear()
	s.respondWithSession(w, http.StatusOK)
}

// putToken feeds the token input into the debounced validator. With ?wait=1 the response is held
// until validation settles.
func (s *Server) putToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.Validator.Update(req.Token, req.Service)

	if r.URL.Query().Get("wait") != "" {
		if _, err := s.Validator.Wait(r.Context()); err != nil {
			proto.RespondWithError(w, proto.ErrInvalidState.WithCause(err))
			return
		}
		s.respondWithSession(w, http.StatusOK)
		return
	}
	s.respondWithSession(w, http.StatusAccepted)
}

func (s *Server) putMethod(w http.ResponseWriter, r *http.Request) {
	var req methodRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Orchestrator.SelectMethod(req.Method); err != nil {
		proto.RespondWithError(w, err)
		return
	}
	s.respondWithSession(w, http.StatusOK)
}

func (s *Server) captureFingerprint(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.Orchestrator.CaptureFingerprint(r.Context(), nil)
	if err != nil {
		proto.RespondWithError(w, err)
		return
	}
	proto.RespondWithJSON(w, http.StatusOK, captureResponse{Artifact: artifact, Session: s.Orchestrator.Snapshot()})
}

// captureImage selects the uploaded multipart "image" file and sends it to the image host.
func (s *Server) captureImage(w http.ResponseWriter, r *http.Request) {
	images, ok := s.images(w)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload+(1<<20))
	file, header, err := r.FormFile("image")
	if err != nil {
		proto.RespondWithError(w, proto.ErrNoImageSelected.WithCause(err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageUpload+1))
	if err != nil {
		proto.RespondWithError(w, proto.ErrInvalidInput.WithCause(err))
		return
	}
	if len(data) > maxImageUpload {
		proto.RespondWithError(w, proto.ErrInvalidInput.WithMessage("Image file is too large."))
		return
	}
	if err := images.SelectFile(header.Filename, data); err != nil {
		proto.RespondWithError(w, err)
		return
	}
	s.uploadSelection(w, r)
}

func (s *Server) openCamera(w http.ResponseWriter, r *http.Request) {
	images, ok := s.images(w)
	if !ok {
		return
	}
	if err := images.OpenCamera(r.Context()); err != nil {
		s.Orchestrator.ReportCaptureError(err)
		proto.RespondWithError(w, err)
		return
	}
	s.respondWithSession(w, http.StatusOK)
}

// takePhoto snapshots the open camera, releases it and uploads the frame.
func (s *Server) takePhoto(w http.ResponseWriter, r *http.Request) {
	images, ok := s.images(w)
	if !ok {
		return
	}
	if err := images.TakePhoto(r.Context()); err != nil {
		s.Orchestrator.ReportCaptureError(err)
		proto.RespondWithError(w, err)
		return
	}
	s.uploadSelection(w, r)
}

func (s *Server) closeCamera(w http.ResponseWriter, r *http.Request) {
	if images := s.Orchestrator.Images(); images != nil {
		images.Dismiss()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) uploadSelection(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.Orchestrator.CaptureImage(r.Context(), nil)
	if err != nil {
		proto.RespondWithError(w, err)
		return
	}
	proto.RespondWithJSON(w, http.StatusOK, captureResponse{Artifact: artifact, Session: s.Orchestrator.Snapshot()})
}

func (s *Server) images(w http.ResponseWriter) (*capture.ImageCapture, bool) {
	images := s.Orchestrator.Images()
	if images == nil {
		proto.RespondWithError(w, proto.ErrInvalidState.WithCausef("no image capture configured"))
		return nil, false
	}
	return images, true
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	id, err := s.Orchestrator.Start(r.Context())
	if err != nil {
		proto.RespondWithError(w, err)
		return
	}
	proto.RespondWithJSON(w, http.StatusAccepted, startResponse{AttemptID: id, Session: s.Orchestrator.Snapshot()})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	s.Orchestrator.Cancel()
	s.respondWithSession(w, http.StatusOK)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.Orchestrator.Reset(); err != nil {
		proto.RespondWithError(w, err)
		return
	}
	s.respondWithSession(w, http.StatusOK)
}

// result renders the outcome of a completed session. With ?wait the response is held until the
// running attempt resolves or the wait elapses. The wait is either a duration or any other value
// for the maximum, and never outlasts the request timeout. An attempt still running when the wait
// elapses answers 202 with the session.
func (s *Server) result(w http.ResponseWriter, r *http.Request) {
	if wait, ok := resultWait(r); ok {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		_, err := s.Orchestrator.Wait(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
				s.respondWithSession(w, http.StatusAccepted)
				return
			}
			proto.RespondWithError(w, err)
			return
		}
	}
	session := s.Orchestrator.Snapshot()
	if session.Phase != proto.SessionPhase_Completed || session.Outcome == nil {
		proto.RespondWithError(w, proto.ErrInvalidState.WithCausef("no verification outcome, phase is %s", session.Phase))
		return
	}
	proto.RespondWithJSON(w, http.StatusOK, present.Present(session.Outcome))
}

func resultWait(r *http.Request) (time.Duration, bool) {
	v := r.URL.Query().Get("wait")
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 || d > maxResultWait {
		d = maxResultWait
	}
	return d, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		proto.RespondWithError(w, proto.ErrInvalidInput.WithCausef("decode request: %v", err))
		return false
	}
	return true
}
