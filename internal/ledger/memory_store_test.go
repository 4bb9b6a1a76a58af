package ledger_test

import (
	"testing"

	"NLP-Chain/internal/ledger"
	"NLP-Chain/internal/ledger/ledgertest"
)

func TestMemoryStore(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		return ledger.NewMemoryStore()
	})
}
