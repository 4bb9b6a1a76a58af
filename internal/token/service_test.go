package token

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "NLP-Chain/internal/errors"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	holder   = common.HexToAddress("0x0000000000000000000000000000000000000c0c")
)

type fakeTransferer struct {
	calls []Interaction
	err   error
}

func (f *fakeTransferer) Transfer(_ context.Context, in Interaction) (Receipt, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return Receipt{}, f.err
	}
	return Receipt{TxHash: common.HexToHash("0xabc")}, nil
}

func TestProcessInteractionDelegates(t *testing.T) {
	fake := &fakeTransferer{}
	svc := NewService(fake)
	in := Interaction{From: holder, To: stranger, Owner: owner, Amount: 42}

	receipt, err := svc.ProcessInteraction(context.Background(), owner, in)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), receipt.TxHash)
	require.Len(t, fake.calls, 1)
	assert.Equal(t, in, fake.calls[0])
}

func TestProcessInteractionRejectsNonOwner(t *testing.T) {
	fake := &fakeTransferer{}
	svc := NewService(fake)

	_, err := svc.ProcessInteraction(context.Background(), stranger, Interaction{Owner: owner, Amount: 1})
	assert.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
	assert.Empty(t, fake.calls, "delegate must not run for unauthorized callers")
}

func TestProcessInteractionPropagatesDelegateFailure(t *testing.T) {
	cause := stdErrors.New("insufficient allowance")
	svc := NewService(&fakeTransferer{err: cause})

	_, err := svc.ProcessInteraction(context.Background(), owner, Interaction{Owner: owner, Amount: 1})
	require.Error(t, err)
	assert.Equal(t, CodeTransferFailed, xerrors.CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestProcessInteractionWithoutDelegate(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.ProcessInteraction(context.Background(), owner, Interaction{Owner: owner})
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}
