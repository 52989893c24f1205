package proto

// Wire types of the remote verification service. All bodies are JSON.

type ValidateTokenParams struct {
	AccessToken string `json:"accessToken"`
	Service     string `json:"service"`
}

type ValidateTokenResponse struct {
	Success          bool              `json:"success"`
	BiometricHash    string            `json:"biometricHash,omitempty"`
	StoredImageURL   string            `json:"storedImageUrl,omitempty"`
	AvailableMethods *AvailableMethods `json:"availableMethods,omitempty"`
	UserInfo         map[string]any    `json:"userInfo,omitempty"`
	Message          string            `json:"message,omitempty"`
}

// ValidationResult is the client-side view of a token validation.
type ValidationResult struct {
	Valid             bool             `json:"valid"`
	BiometricHash     string           `json:"biometricHash,omitempty"`
	ReferenceImageURL string           `json:"referenceImageUrl,omitempty"`
	AvailableMethods  AvailableMethods `json:"availableMethods"`
	Identity          *UserIdentity    `json:"identity,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
}

type StartVerificationParams struct {
	BiometricHash string             `json:"biometricHash"`
	Service       string             `json:"service"`
	Method        VerificationMethod `json:"method"`
	BiometricData string             `json:"biometricData,omitempty"`
	ImageURL      string             `json:"imageUrl,omitempty"`
}

type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type ResultStatus string

const (
	ResultStatus_Pending   ResultStatus = "pending"
	ResultStatus_Completed ResultStatus = "completed"
	ResultStatus_Expired   ResultStatus = "expired"
)

type VerificationDetails struct {
	Method VerificationMethod `json:"method"`
}

type LatestResultResponse struct {
	Status              ResultStatus         `json:"status"`
	Success             bool                 `json:"success,omitempty"`
	Message             string               `json:"message,omitempty"`
	UserInfo            map[string]any       `json:"userInfo,omitempty"`
	DigitalID           string               `json:"digitalId,omitempty"`
	VerificationDetails *VerificationDetails `json:"verificationDetails,omitempty"`
}

type CompleteVerificationParams struct {
	BiometricHash string             `json:"biometricHash"`
	Service       string             `json:"service"`
	Method        VerificationMethod `json:"method"`
	ImageVerified bool               `json:"imageVerified"`
	BiometricData string             `json:"biometricData,omitempty"`
}

type CompleteVerificationResponse struct {
	Success             bool                 `json:"success"`
	UserInfo            map[string]any       `json:"userInfo,omitempty"`
	DigitalID           string               `json:"digitalId,omitempty"`
	VerificationDetails *VerificationDetails `json:"verificationDetails,omitempty"`
	Message             string               `json:"message,omitempty"`
}

type RegistrationParams struct {
	Method        VerificationMethod `json:"method"`
	BiometricData string             `json:"biometricData,omitempty"`
	ImageURL      string             `json:"imageUrl,omitempty"`
	UserInfo      UserIdentity       `json:"userInfo"`
}

type LoginParams struct {
	DigitalID     string             `json:"digitalId,omitempty"`
	Email         string             `json:"email,omitempty"`
	Password      string             `json:"password,omitempty"`
	Method        VerificationMethod `json:"method,omitempty"`
	BiometricData string             `json:"biometricData,omitempty"`
	ImageURL      string             `json:"imageUrl,omitempty"`
}

type LoginEvent struct {
	Timestamp string `json:"timestamp"`
	IPAddress string `json:"ipAddress"`
	UserAgent string `json:"userAgent"`
}

type AuthResponse struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message,omitempty"`
	AccessToken  string         `json:"accessToken,omitempty"`
	UserInfo     map[string]any `json:"userInfo,omitempty"`
	DigitalID    string         `json:"digitalId,omitempty"`
	TokenExpiry  LooseString    `json:"tokenExpiry,omitempty"`
	LoginHistory []LoginEvent   `json:"loginHistory,omitempty"`
}
