package identity

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NLP-Chain/internal/errors"
)

func signedRequest(t *testing.T, method, path, body string, ts int64) (*http.Request, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sig, err := Sign(key, method, path, ts, []byte(body))
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(HeaderIdentity, addr.Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
	return req, addr
}

func TestAuthenticateSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute)
	v.now = func() time.Time { return now }

	req, addr := signedRequest(t, http.MethodPost, "/api/v1/proofs", `{"nonce":1}`, now.Unix())
	caller, ok, err := v.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, addr, caller)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"nonce":1}`, string(body), "body must be restored for the handler")
}

func TestAuthenticateRejectsTamperedBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute)
	v.now = func() time.Time { return now }

	req, _ := signedRequest(t, http.MethodPost, "/api/v1/proofs", `{"nonce":1}`, now.Unix())
	req.Body = io.NopCloser(strings.NewReader(`{"nonce":2}`))

	_, _, err := v.Authenticate(req)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute)
	v.now = func() time.Time { return now }

	req, _ := signedRequest(t, http.MethodGet, "/api/v1/ledgers/x", "", now.Add(-2*time.Minute).Unix())
	_, _, err := v.Authenticate(req)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}

func TestAuthenticateRejectsForeignSigner(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute)
	v.now = func() time.Time { return now }

	req, _ := signedRequest(t, http.MethodPost, "/api/v1/users", "", now.Unix())
	req.Header.Set(HeaderIdentity, common.HexToAddress("0x00000000000000000000000000000000000000aa").Hex())

	_, _, err := v.Authenticate(req)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}

func TestAuthenticateDisabledModeTrustsHeader(t *testing.T) {
	v := NewVerifier(ModeDisabled, 0)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok, err := v.Authenticate(req)
	require.NoError(t, err)
	assert.False(t, ok, "anonymous request carries no caller")

	req.Header.Set(HeaderIdentity, "0x00000000000000000000000000000000000000aa")
	caller, ok, err := v.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, common.HexToAddress("0xaa"), caller)

	req.Header.Set(HeaderIdentity, "not-an-address")
	_, _, err = v.Authenticate(req)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestMiddlewareStoresCaller(t *testing.T) {
	v := NewVerifier(ModeDisabled, 0)
	var seen common.Address
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := RequireCaller(r.Context())
		require.NoError(t, err)
		seen = caller
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	req.Header.Set(HeaderIdentity, "0x00000000000000000000000000000000000000bb")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, common.HexToAddress("0xbb"), seen)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/users", nil)
	req.Header.Set(HeaderIdentity, "bogus")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireCallerMissing(t *testing.T) {
	_, err := RequireCaller(context.Background())
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}

func replayOf(t *testing.T, req *http.Request, body string) *http.Request {
	t.Helper()
	again := httptest.NewRequest(req.Method, req.URL.Path, strings.NewReader(body))
	again.Header = req.Header.Clone()
	return again
}

func TestAuthenticateRejectsReplayedWrite(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute)
	v.now = func() time.Time { return now }

	body := `{"from":"0x01","to":"0x02","amount":"5"}`
	req, addr := signedRequest(t, http.MethodPost, "/api/v1/interactions", body, now.Unix())
	caller, ok, err := v.Authenticate(req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, addr, caller)

	for i := 0; i < 3; i++ {
		_, ok, err := v.Authenticate(replayOf(t, req, body))
		assert.False(t, ok)
		assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err), "replay %d", i)
	}
}

func TestAuthenticateAllowsRepeatedReads(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute)
	v.now = func() time.Time { return now }

	req, addr := signedRequest(t, http.MethodGet, "/api/v1/ledgers/notes", "", now.Unix())
	for i := 0; i < 2; i++ {
		caller, ok, err := v.Authenticate(replayOf(t, req, ""))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, addr, caller)
	}
}

type failingGuard struct{}

func (failingGuard) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, io.ErrUnexpectedEOF
}

func TestAuthenticateSurfacesReplayGuardFailure(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := NewVerifier(ModeSignature, time.Minute, WithReplayGuard(failingGuard{}))
	v.now = func() time.Time { return now }

	req, _ := signedRequest(t, http.MethodPost, "/api/v1/ledgers", `{"id":"x"}`, now.Unix())
	_, ok, err := v.Authenticate(req)
	assert.False(t, ok)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))
}

func TestMemoryReplayGuardExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewMemoryReplayGuard()
	g.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := g.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	again, _ := g.Claim(ctx, "k", time.Minute)
	assert.False(t, again)

	now = now.Add(2 * time.Minute)
	after, _ := g.Claim(ctx, "k", time.Minute)
	assert.True(t, after)
	assert.Len(t, g.seen, 1)
}
