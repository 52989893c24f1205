package validator_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/validator"
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	res *proto.ValidationResult
	err error
}

type call struct {
	token   string
	service string
	reply   chan reply
}

type stubAPI struct {
	calls chan *call
}

func newStubAPI() *stubAPI {
	return &stubAPI{calls: make(chan *call, 16)}
}

func (s *stubAPI) ValidateToken(ctx context.Context, token string, service string) (*proto.ValidationResult, error) {
	c := &call{token: token, service: service, reply: make(chan reply, 1)}
	s.calls <- c
	r := <-c.reply
	return r.res, r.err
}

func (s *stubAPI) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a validation call")
		return nil
	}
}

func (s *stubAPI) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected validation call for %q", c.token)
	case <-time.After(50 * time.Millisecond):
	}
}

func validResult(hash string) *proto.ValidationResult {
	return &proto.ValidationResult{
		Valid:             true,
		BiometricHash:     hash,
		ReferenceImageURL: "https://img.example.com/" + hash + ".png",
		AvailableMethods:  proto.AvailableMethods{Biometric: true},
		Identity:          &proto.UserIdentity{FirstName: "Aline", DigitalID: "D-" + hash},
	}
}

func initValidator(t *testing.T, opts ...validator.Option) (*validator.Validator, *stubAPI, *clock.Mock) {
	api := newStubAPI()
	mockClock := clock.NewMock()
	v := validator.New(api, append([]validator.Option{validator.WithClock(mockClock)}, opts...)...)
	t.Cleanup(v.Close)
	return v, api, mockClock
}

func TestShortTokenClearsWithoutNetwork(t *testing.T) {
	v, api, mockClock := initValidator(t)

	v.Update("tok_1234567890", "")
	mockClock.Add(500 * time.Millisecond)
	api.next(t).reply <- reply{res: validResult("h1")}
	require.Eventually(t, func() bool { return v.State().Status == validator.StatusValid }, time.Second, 5*time.Millisecond)

	for _, token := range []string{"", "abc", "  123456789  ", "tok_12345"} {
		v.Update(token, "Bank")
		state := v.State()
		assert.Equal(t, validator.StatusIdle, state.Status)
		assert.False(t, state.Result.Valid)
		assert.Empty(t, state.Result.BiometricHash)
		assert.Empty(t, state.Result.ReferenceImageURL)
		assert.Nil(t, state.Result.Identity)
		assert.False(t, state.Result.AvailableMethods.Known())
	}

	mockClock.Add(time.Second)
	api.assertNoCall(t)
}

func TestDebounceIssuesOneCallWithFinalValue(t *testing.T) {
	v, api, mockClock := initValidator(t)

	v.Update("abc1234567", "")
	mockClock.Add(200 * time.Millisecond)
	v.Update("abc12345678", "")
	mockClock.Add(499 * time.Millisecond)
	api.assertNoCall(t)

	mockClock.Add(1 * time.Millisecond)
	c := api.next(t)
	assert.Equal(t, "abc12345678", c.token)
	assert.Equal(t, proto.DefaultServiceName, c.service)

	mockClock.Add(time.Second)
	api.assertNoCall(t)

	c.reply <- reply{res: validResult("h1")}
	state, err := v.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, validator.StatusValid, state.Status)
	assert.Equal(t, "h1", state.Result.BiometricHash)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	metrics := o11y.NewMetrics()
	v, api, mockClock := initValidator(t, validator.WithMetrics(metrics))

	v.Update("token-XXXXXXXX", "Bank")
	mockClock.Add(500 * time.Millisecond)
	callA := api.next(t)
	require.Eventually(t, func() bool { return v.State().Status == validator.StatusValidating }, time.Second, 5*time.Millisecond)

	v.Update("token-YYYYYYYY", "Bank")
	mockClock.Add(500 * time.Millisecond)
	callB := api.next(t)
	assert.Equal(t, "token-YYYYYYYY", callB.token)

	callB.reply <- reply{res: validResult("hash-Y")}
	require.Eventually(t, func() bool { return v.State().Status == validator.StatusValid }, time.Second, 5*time.Millisecond)

	callA.reply <- reply{res: validResult("hash-X")}
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(staleMetric), "verifier_token_validation_stale_total") == nil
	}, time.Second, 5*time.Millisecond)

	state := v.State()
	assert.Equal(t, "hash-Y", state.Result.BiometricHash)
	assert.Equal(t, "token-YYYYYYYY", state.Token)
}

func TestValidationFailures(t *testing.T) {
	testCases := map[string]struct {
		reply   reply
		wantMsg string
	}{
		"server message": {
			reply:   reply{res: &proto.ValidationResult{Valid: false, ErrorMessage: "Token revoked"}},
			wantMsg: "Token revoked",
		},
		"rejection without message": {
			reply:   reply{res: &proto.ValidationResult{Valid: false}},
			wantMsg: "Token validation failed",
		},
		"transport error": {
			reply:   reply{err: proto.ErrTransport.WithCausef("connection refused")},
			wantMsg: "Verification request failed",
		},
		"transport error with server message": {
			reply:   reply{err: proto.ErrTransport.WithMessage("Service unavailable")},
			wantMsg: "Service unavailable",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			v, api, mockClock := initValidator(t)

			v.Update("tok_1234567890", "Bank")
			mockClock.Add(500 * time.Millisecond)
			api.next(t).reply <- tc.reply

			state, err := v.Wait(context.Background())
			require.NoError(t, err)
			assert.Equal(t, validator.StatusInvalid, state.Status)
			assert.False(t, state.Result.Valid)
			assert.Equal(t, tc.wantMsg, state.Result.ErrorMessage)
			assert.Empty(t, state.Result.BiometricHash)
		})
	}
}

func TestListenersSeeValidatingThenValid(t *testing.T) {
	v, api, mockClock := initValidator(t)

	var mu sync.Mutex
	var statuses []validator.Status
	v.OnChange(func(s validator.State) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s.Status)
	})

	v.Update("tok_1234567890", "")
	mockClock.Add(500 * time.Millisecond)
	api.next(t).reply <- reply{res: validResult("h1")}
	_, err := v.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []validator.Status{validator.StatusIdle, validator.StatusValidating, validator.StatusValid}, statuses)
}

func TestCloseStopsPendingWork(t *testing.T) {
	api := newStubAPI()
	mockClock := clock.NewMock()
	v := validator.New(api, validator.WithClock(mockClock), validator.WithDebounce(time.Second))

	v.Update("tok_1234567890", "")
	v.Close()
	mockClock.Add(2 * time.Second)
	api.assertNoCall(t)

	v.Update("tok_0987654321", "")
	assert.Equal(t, "tok_1234567890", v.State().Token)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := v.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

const staleMetric = `
# HELP verifier_token_validation_stale_total Validation responses discarded because a newer request superseded them.
# TYPE verifier_token_validation_stale_total counter
verifier_token_validation_stale_total 1
`
