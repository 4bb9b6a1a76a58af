package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"NLP-Chain/internal/api"
	"NLP-Chain/internal/identity"
	"NLP-Chain/internal/ledger"
	"NLP-Chain/sdk/go/nlpchain"
)

// 在进程内启动一个内存后端的服务，演示签名客户端的账本操作。
func main() {
	svc := api.Services{Ledgers: ledger.NewService(ledger.NewMemoryStore())}
	handler := api.NewServer(api.Options{}, identity.NewVerifier(identity.ModeSignature, 0), svc).Handler()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	client, err := nlpchain.NewClient(srv.URL, nlpchain.WithHTTPClient(srv.Client()), nlpchain.WithSigner(key))
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := client.CreateLedger(ctx, "demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("ledger %s owned by %s\n", state.ID, state.Authority.Hex())

	for _, text := range []string{"first sentence", "second sentence"} {
		b, err := client.AddBlock(ctx, "demo", nlpchain.BlockContent{Text: text, Vector: []float64{0.1, 0.2}})
		if err != nil {
			panic(err)
		}
		fmt.Printf("block %d data_hash=%s previous=%s\n", b.Index, b.DataHash, b.PreviousHash)
	}

	report, err := client.VerifyLedger(ctx, "demo")
	if err != nil {
		panic(err)
	}
	fmt.Printf("verified %d blocks, valid=%v\n", report.CheckedBlocks, report.Valid)
}
