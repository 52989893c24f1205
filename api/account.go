package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
)

// AuthResult is a decoded account response together with its raw body, which the session cache
// keeps verbatim.
type AuthResult struct {
	*proto.AuthResponse
	Identity *proto.UserIdentity
	Raw      json.RawMessage
}

// HasToken reports whether the response carries a session worth persisting.
func (r *AuthResult) HasToken() bool {
	return r != nil && r.Success && r.AccessToken != ""
}

func (c *Client) Register(ctx context.Context, params *proto.RegistrationParams) (*AuthResult, error) {
	return c.authCall(ctx, "api.Register", http.MethodPost, PathRegister, "", params)
}

func (c *Client) Login(ctx context.Context, params *proto.LoginParams) (*AuthResult, error) {
	return c.authCall(ctx, "api.Login", http.MethodPost, PathLogin, "", params)
}

func (c *Client) LoginWithDigitalID(ctx context.Context, digitalID string) (*AuthResult, error) {
	return c.authCall(ctx, "api.LoginWithDigitalID", http.MethodPost, PathLogin, "", &proto.LoginParams{DigitalID: digitalID})
}

func (c *Client) CompleteLogin(ctx context.Context, params *proto.LoginParams) (*AuthResult, error) {
	return c.authCall(ctx, "api.CompleteLogin", http.MethodPost, PathCompleteLogin, "", params)
}

func (c *Client) VerifyBiometric(ctx context.Context, accessToken string, params *proto.LoginParams) (*AuthResult, error) {
	return c.authCall(ctx, "api.VerifyBiometric", http.MethodPost, PathVerifyBiometric, accessToken, params)
}

func (c *Client) Profile(ctx context.Context, accessToken string) (*AuthResult, error) {
	return c.authCall(ctx, "api.Profile", http.MethodGet, PathProfile, accessToken, nil)
}

func (c *Client) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, span := o11y.Trace(ctx, "api.Logout")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	var res proto.StatusResponse
	if _, err := c.do(ctx, http.MethodPost, PathLogout, accessToken, struct{}{}, &res); err != nil {
		return err
	}
	if !res.Success {
		return proto.ErrRejected.WithMessage(res.Message)
	}
	return nil
}

func (c *Client) authCall(ctx context.Context, name string, method string, path string, bearer string, in any) (_ *AuthResult, err error) {
	ctx, span := o11y.Trace(ctx, name)
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	var res proto.AuthResponse
	raw, err := c.do(ctx, method, path, bearer, in, &res)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, proto.ErrRejected.WithMessage(res.Message)
	}

	identity, err := proto.DecodeIdentity(res.UserInfo)
	if err != nil {
		return nil, proto.ErrTransport.WithCausef("decode userInfo: %w", err)
	}
	return &AuthResult{AuthResponse: &res, Identity: identity, Raw: raw}, nil
}
