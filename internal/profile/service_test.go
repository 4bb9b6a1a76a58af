package profile

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NLP-Chain/internal/errors"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestService() (*Service, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	svc := NewService(NewMemoryStore(), WithClock(func() time.Time { return now }))
	return svc, &now
}

func TestInitializeUser(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	p, err := svc.InitializeUser(ctx, alice)
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, int64(1_700_000_000), p.CreatedAt)
	assert.Zero(t, p.UpdatedAt, "updated_at stays unset until the first status change")

	_, err = svc.InitializeUser(ctx, alice)
	assert.True(t, stdErrors.Is(err, ErrProfileExists))
	assert.Equal(t, xerrors.CodeAlreadyExists, xerrors.CodeOf(err))
}

func TestUpdateStatus(t *testing.T) {
	svc, now := newTestService()
	ctx := context.Background()
	_, err := svc.InitializeUser(ctx, alice)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, bob, alice, false)
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
	stored, err := svc.Get(ctx, alice)
	require.NoError(t, err)
	assert.True(t, stored.Active, "denied update leaves the flag untouched")

	*now = now.Add(time.Minute)
	p, err := svc.UpdateStatus(ctx, alice, alice, false)
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.Equal(t, int64(1_700_000_060), p.UpdatedAt)
	assert.Equal(t, int64(1_700_000_000), p.CreatedAt)

	_, err = svc.UpdateStatus(ctx, bob, bob, true)
	assert.True(t, stdErrors.Is(err, ErrProfileNotFound))
}
