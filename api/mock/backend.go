// Package mock is an in-process implementation of the remote verification service, used by tests
// and by the verifier-mock binary.
package mock

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/0xsequence/identity-verifier/api"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Identity is a registered identity and the token that validates it.
type Identity struct {
	Token          string
	BiometricHash  string
	StoredImageURL string
	Methods        proto.AvailableMethods
	UserInfo       map[string]any
	DigitalID      string
	Password       string

	// RejectStart makes start-verification fail with this message.
	RejectStart string
}

type Backend struct {
	// AutoCompleteAfter is the number of pending polls returned before an unscripted attempt
	// completes successfully.
	AutoCompleteAfter int
	// TokenTTL is the lifetime of issued access tokens.
	TokenTTL time.Duration

	mu         sync.Mutex
	identities map[string]*Identity
	byHash     map[string]*Identity
	byDigital  map[string]*Identity
	sessions   map[string]*Identity
	scripts    map[string][]proto.LatestResultResponse
	started    map[string]int
	requests   map[string][]json.RawMessage
	now        func() time.Time
}

func New() *Backend {
	return &Backend{
		AutoCompleteAfter: 2,
		TokenTTL:          24 * time.Hour,
		identities:        map[string]*Identity{},
		byHash:            map[string]*Identity{},
		byDigital:         map[string]*Identity{},
		sessions:          map[string]*Identity{},
		scripts:           map[string][]proto.LatestResultResponse{},
		started:           map[string]int{},
		requests:          map[string][]json.RawMessage{},
		now:               time.Now,
	}
}

func (b *Backend) AddIdentity(id Identity) *Identity {
	b.mu.Lock()
	defer b.mu.Unlock()

	ident := id
	if ident.BiometricHash == "" {
		ident.BiometricHash = "bh_" + uuid.NewString()
	}
	if ident.DigitalID == "" {
		ident.DigitalID = "DID-" + strings.ToUpper(uuid.NewString()[:8])
	}
	if ident.UserInfo == nil {
		ident.UserInfo = map[string]any{}
	}
	ident.UserInfo["digitalId"] = ident.DigitalID
	b.register(&ident)
	return &ident
}

func (b *Backend) register(ident *Identity) {
	if ident.Token != "" {
		b.identities[ident.Token] = ident
	}
	b.byHash[ident.BiometricHash] = ident
	b.byDigital[ident.DigitalID] = ident
}

// ScriptResults queues latest-result responses for the attempt bound to hash. The last response
// repeats once the queue is drained.
func (b *Backend) ScriptResults(hash string, results ...proto.LatestResultResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[hash] = append([]proto.LatestResultResponse(nil), results...)
}

// Requests returns the request bodies received on path, oldest first.
func (b *Backend) Requests(path string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]json.RawMessage(nil), b.requests[path]...)
}

func (b *Backend) Calls(path string) int {
	return len(b.Requests(path))
}

// IssueSession creates a bearer session for an identity, as register or complete-login would.
func (b *Backend) IssueSession(digitalID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ident, ok := b.byDigital[digitalID]
	if !ok {
		return "", false
	}
	token := "at_" + uuid.NewString()
	b.sessions[token] = ident
	return token, true
}

func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Post(api.PathVerifyToken, b.verifyToken)
	r.Post(api.PathStartVerification, b.startVerification)
	r.Get(api.PathLatestResult, b.latestResult)
	r.Post(api.PathCompleteVerify, b.completeVerify)
	r.Post(api.PathRegister, b.registerIdentity)
	r.Post(api.PathLogin, b.login)
	r.Post(api.PathCompleteLogin, b.completeLogin)
	r.Post(api.PathVerifyBiometric, b.verifyBiometric)
	r.Get(api.PathProfile, b.profile)
	r.Post(api.PathLogout, b.logout)
	return r
}

func (b *Backend) verifyToken(w http.ResponseWriter, r *http.Request) {
	var params proto.ValidateTokenParams
	if !b.decode(w, r, api.PathVerifyToken, &params) {
		return
	}

	b.mu.Lock()
	ident, ok := b.identities[strings.TrimSpace(params.AccessToken)]
	b.mu.Unlock()
	if !ok {
		respond(w, http.StatusOK, proto.ValidateTokenResponse{Success: false, Message: "Invalid or expired token"})
		return
	}

	methods := ident.Methods
	respond(w, http.StatusOK, proto.ValidateTokenResponse{
		Success:          true,
		BiometricHash:    ident.BiometricHash,
		StoredImageURL:   ident.StoredImageURL,
		AvailableMethods: &methods,
		UserInfo:         ident.UserInfo,
		Message:          "Token verified for " + params.Service,
	})
}

func (b *Backend) startVerification(w http.ResponseWriter, r *http.Request) {
	var params proto.StartVerificationParams
	if !b.decode(w, r, api.PathStartVerification, &params) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ident, ok := b.byHash[params.BiometricHash]
	if !ok {
		respond(w, http.StatusNotFound, proto.StatusResponse{Success: false, Message: "Unknown biometric hash"})
		return
	}
	if ident.RejectStart != "" {
		respond(w, http.StatusOK, proto.StatusResponse{Success: false, Message: ident.RejectStart})
		return
	}
	b.started[params.BiometricHash] = 0
	respond(w, http.StatusOK, proto.StatusResponse{Success: true, Message: "Verification started"})
}

func (b *Backend) latestResult(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("biometricHash")
	b.record(api.PathLatestResult, json.RawMessage(`{"biometricHash":`+quote(hash)+`}`))

	b.mu.Lock()
	defer b.mu.Unlock()

	ident, ok := b.byHash[hash]
	if !ok {
		respond(w, http.StatusNotFound, proto.StatusResponse{Success: false, Message: "Unknown biometric hash"})
		return
	}

	if script := b.scripts[hash]; len(script) > 0 {
		res := script[0]
		if len(script) > 1 {
			b.scripts[hash] = script[1:]
		}
		respond(w, http.StatusOK, res)
		return
	}

	polls, started := b.started[hash]
	if !started {
		respond(w, http.StatusOK, proto.LatestResultResponse{Status: proto.ResultStatus_Pending})
		return
	}
	b.started[hash] = polls + 1
	if polls < b.AutoCompleteAfter {
		respond(w, http.StatusOK, proto.LatestResultResponse{Status: proto.ResultStatus_Pending})
		return
	}
	respond(w, http.StatusOK, proto.LatestResultResponse{
		Status:    proto.ResultStatus_Completed,
		Success:   true,
		Message:   "Verification successful",
		UserInfo:  ident.UserInfo,
		DigitalID: ident.DigitalID,
	})
}

func (b *Backend) completeVerify(w http.ResponseWriter, r *http.Request) {
	var params proto.CompleteVerificationParams
	if !b.decode(w, r, api.PathCompleteVerify, &params) {
		return
	}

	b.mu.Lock()
	ident, ok := b.byHash[params.BiometricHash]
	b.mu.Unlock()
	if !ok {
		respond(w, http.StatusNotFound, proto.CompleteVerificationResponse{Success: false, Message: "Unknown biometric hash"})
		return
	}
	if params.Method.Requires(proto.ArtifactKind_Image) && !params.ImageVerified {
		respond(w, http.StatusOK, proto.CompleteVerificationResponse{Success: false, Message: "Image verification failed"})
		return
	}
	if params.Method.Requires(proto.ArtifactKind_Fingerprint) && params.BiometricData == "" {
		respond(w, http.StatusOK, proto.CompleteVerificationResponse{Success: false, Message: "Biometric data required"})
		return
	}
	respond(w, http.StatusOK, proto.CompleteVerificationResponse{
		Success:             true,
		UserInfo:            ident.UserInfo,
		DigitalID:           ident.DigitalID,
		VerificationDetails: &proto.VerificationDetails{Method: params.Method},
		Message:             "Verification successful",
	})
}

func (b *Backend) registerIdentity(w http.ResponseWriter, r *http.Request) {
	var params proto.RegistrationParams
	if !b.decode(w, r, api.PathRegister, &params) {
		return
	}
	if err := params.UserInfo.Validate(); err != nil {
		respond(w, http.StatusBadRequest, proto.AuthResponse{Success: false, Message: err.Error()})
		return
	}

	userInfo := map[string]any{}
	raw, _ := json.Marshal(params.UserInfo)
	_ = json.Unmarshal(raw, &userInfo)

	ident := b.AddIdentity(Identity{
		StoredImageURL: params.ImageURL,
		Methods: proto.AvailableMethods{
			Biometric: params.Method.Requires(proto.ArtifactKind_Fingerprint),
			Image:     params.Method.Requires(proto.ArtifactKind_Image),
		},
		UserInfo: userInfo,
	})
	b.respondWithSession(w, ident, "Registration successful")
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !b.decode(w, r, api.PathLogin, &params) {
		return
	}

	b.mu.Lock()
	ident := b.byDigital[params.DigitalID]
	if ident == nil && params.Email != "" {
		for _, candidate := range b.byDigital {
			if candidate.UserInfo["email"] == params.Email {
				ident = candidate
				break
			}
		}
	}
	b.mu.Unlock()

	if ident == nil {
		respond(w, http.StatusOK, proto.AuthResponse{Success: false, Message: "Identity not found"})
		return
	}
	if params.Email != "" {
		if ident.Password == "" || ident.Password != params.Password {
			respond(w, http.StatusOK, proto.AuthResponse{Success: false, Message: "Invalid credentials"})
			return
		}
		b.respondWithSession(w, ident, "Login successful")
		return
	}
	respond(w, http.StatusOK, proto.AuthResponse{
		Success:   true,
		Message:   "Digital ID verified",
		DigitalID: ident.DigitalID,
		UserInfo:  ident.UserInfo,
	})
}

func (b *Backend) completeLogin(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !b.decode(w, r, api.PathCompleteLogin, &params) {
		return
	}

	b.mu.Lock()
	ident := b.byDigital[params.DigitalID]
	b.mu.Unlock()
	if ident == nil {
		respond(w, http.StatusOK, proto.AuthResponse{Success: false, Message: "Identity not found"})
		return
	}
	if params.Method.Requires(proto.ArtifactKind_Fingerprint) && params.BiometricData == "" {
		respond(w, http.StatusOK, proto.AuthResponse{Success: false, Message: "Biometric data required"})
		return
	}
	b.respondWithSession(w, ident, "Login completed successfully")
}

func (b *Backend) verifyBiometric(w http.ResponseWriter, r *http.Request) {
	var params proto.LoginParams
	if !b.decode(w, r, api.PathVerifyBiometric, &params) {
		return
	}
	ident, ok := b.bearer(r)
	if !ok {
		respond(w, http.StatusUnauthorized, proto.AuthResponse{Success: false, Message: "Unauthorized"})
		return
	}
	b.respondWithSession(w, ident, "Biometric verification successful")
}

func (b *Backend) profile(w http.ResponseWriter, r *http.Request) {
	b.record(api.PathProfile, nil)
	ident, ok := b.bearer(r)
	if !ok {
		respond(w, http.StatusUnauthorized, proto.AuthResponse{Success: false, Message: "Unauthorized"})
		return
	}
	respond(w, http.StatusOK, proto.AuthResponse{
		Success:   true,
		DigitalID: ident.DigitalID,
		UserInfo:  ident.UserInfo,
		LoginHistory: []proto.LoginEvent{
			{Timestamp: b.now().UTC().Format(time.RFC3339), IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()},
		},
	})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.record(api.PathLogout, nil)
	token, ok := bearerToken(r)
	if !ok {
		respond(w, http.StatusUnauthorized, proto.StatusResponse{Success: false, Message: "Unauthorized"})
		return
	}

	b.mu.Lock()
	_, known := b.sessions[token]
	delete(b.sessions, token)
	b.mu.Unlock()

	if !known {
		respond(w, http.StatusUnauthorized, proto.StatusResponse{Success: false, Message: "Unauthorized"})
		return
	}
	respond(w, http.StatusOK, proto.StatusResponse{Success: true, Message: "Logged out successfully"})
}

func (b *Backend) respondWithSession(w http.ResponseWriter, ident *Identity, message string) {
	token, _ := b.IssueSession(ident.DigitalID)
	respond(w, http.StatusOK, proto.AuthResponse{
		Success:     true,
		Message:     message,
		AccessToken: token,
		DigitalID:   ident.DigitalID,
		UserInfo:    ident.UserInfo,
		TokenExpiry: proto.LooseString(b.now().Add(b.TokenTTL).UTC().Format(time.RFC3339)),
	})
}

func (b *Backend) bearer(r *http.Request) (*Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ident, ok := b.sessions[token]
	return ident, ok
}

func (b *Backend) decode(w http.ResponseWriter, r *http.Request, path string, v any) bool {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respond(w, http.StatusBadRequest, proto.StatusResponse{Success: false, Message: "Invalid request body"})
		return false
	}
	b.record(path, raw)
	if err := json.Unmarshal(raw, v); err != nil {
		respond(w, http.StatusBadRequest, proto.StatusResponse{Success: false, Message: "Invalid request body"})
		return false
	}
	return true
}

func (b *Backend) record(path string, body json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[path] = append(b.requests[path], body)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(h, "Bearer ")
	return token, ok && token != ""
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
