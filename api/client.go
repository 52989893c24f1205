// Package api is the client of the remote verification service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
)

const (
	PathVerifyToken        = "/biometric/verify-token"
	PathStartVerification  = "/biometric/start-verification"
	PathLatestResult       = "/biometric/latest-result"
	PathCompleteVerify     = "/biometric/complete-verify"
	PathRegister           = "/biometric/register"
	PathLogin              = "/auth/login"
	PathCompleteLogin      = "/biometric/complete-login"
	PathVerifyBiometric    = "/biometric/verify"
	PathProfile            = "/profile"
	PathLogout             = "/biometric/logout"
	maxResponseBodyLength  = 4 << 20
	contentTypeJSON        = "application/json"
	authorizationBearerKey = "Bearer "
)

type Client struct {
	baseURL    string
	httpClient o11y.HTTPClient
}

func NewClient(baseURL string, httpClient o11y.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// ValidateToken exchanges an access token for the biometric hash, reference image and available
// methods of its identity. A business rejection is returned as an invalid result, not an error.
func (c *Client) ValidateToken(ctx context.Context, accessToken string, service string) (_ *proto.ValidationResult, err error) {
	ctx, span := o11y.Trace(ctx, "api.ValidateToken", o11y.WithAnnotation("service", service))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	var res proto.ValidateTokenResponse
	if _, err := c.do(ctx, http.MethodPost, PathVerifyToken, "", &proto.ValidateTokenParams{
		AccessToken: accessToken,
		Service:     service,
	}, &res); err != nil {
		return nil, err
	}

	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = proto.ErrTokenInvalid.Message
		}
		return &proto.ValidationResult{Valid: false, ErrorMessage: msg}, nil
	}

	identity, err := proto.DecodeIdentity(res.UserInfo)
	if err != nil {
		return nil, proto.ErrTransport.WithCausef("decode userInfo: %w", err)
	}

	result := &proto.ValidationResult{
		Valid:             true,
		BiometricHash:     res.BiometricHash,
		ReferenceImageURL: res.StoredImageURL,
		Identity:          identity,
	}
	if res.AvailableMethods != nil {
		result.AvailableMethods = *res.AvailableMethods
	}
	return result, nil
}

// StartVerification registers an asynchronous verification attempt.
func (c *Client) StartVerification(ctx context.Context, params *proto.StartVerificationParams) (err error) {
	ctx, span := o11y.Trace(ctx, "api.StartVerification", o11y.WithAnnotation("method", string(params.Method)))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	var res proto.StatusResponse
	if _, err := c.do(ctx, http.MethodPost, PathStartVerification, "", params, &res); err != nil {
		return err
	}
	if !res.Success {
		return proto.ErrRejected.WithMessage(res.Message)
	}
	return nil
}

// LatestResult fetches the current state of the attempt bound to biometricHash.
func (c *Client) LatestResult(ctx context.Context, biometricHash string) (_ *proto.LatestResultResponse, err error) {
	ctx, span := o11y.Trace(ctx, "api.LatestResult")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	path := PathLatestResult + "?" + url.Values{"biometricHash": {biometricHash}}.Encode()

	var res proto.LatestResultResponse
	if _, err := c.do(ctx, http.MethodGet, path, "", nil, &res); err != nil {
		return nil, err
	}
	switch res.Status {
	case proto.ResultStatus_Pending, proto.ResultStatus_Completed, proto.ResultStatus_Expired:
	default:
		return nil, proto.ErrTransport.WithCausef("unexpected result status %q", res.Status)
	}
	span.SetAnnotation("status", string(res.Status))
	return &res, nil
}

// CompleteVerification submits a one-shot verification.
func (c *Client) CompleteVerification(ctx context.Context, params *proto.CompleteVerificationParams) (_ *proto.CompleteVerificationResponse, err error) {
	ctx, span := o11y.Trace(ctx, "api.CompleteVerification", o11y.WithAnnotation("method", string(params.Method)))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	var res proto.CompleteVerificationResponse
	if _, err := c.do(ctx, http.MethodPost, PathCompleteVerify, "", params, &res); err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, proto.ErrRejected.WithMessage(res.Message)
	}
	return &res, nil
}

// do sends a JSON request and decodes a JSON response into out. The raw body is returned as well.
// Non-2xx statuses and undecodable bodies are transport errors; the server message, when present,
// becomes the error message.
func (c *Client) do(ctx context.Context, method string, path string, bearer string, in any, out any) (json.RawMessage, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, proto.ErrInvalidInput.WithCausef("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, proto.ErrTransport.WithCausef("create request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if in != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if bearer != "" {
		req.Header.Set("Authorization", authorizationBearerKey+bearer)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
		return nil, proto.ErrTransport.WithCausef("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodyLength))
	if err != nil {
		return nil, proto.ErrTransport.WithCausef("read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var status proto.StatusResponse
		_ = json.Unmarshal(raw, &status)
		return nil, proto.ErrTransport.
			WithMessage(status.Message).
			WithCausef("%s %s: status %d", method, path, res.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, proto.ErrTransport.WithCausef("decode response: %w", err)
		}
	}
	return json.RawMessage(raw), nil
}
