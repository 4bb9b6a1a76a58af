package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAppendTracksHeight(t *testing.T) {
	before := testutil.ToFloat64(blocksAppendedTotal)

	ObserveAppend("ledger-test", 4, nil, time.Now())
	ObserveAppend("ledger-test", 5, errors.New("boom"), time.Now())

	assert.Equal(t, before+1, testutil.ToFloat64(blocksAppendedTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(ledgerHeight.WithLabelValues("ledger-test")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveHTTPRequest("/api/v1/proofs", http.MethodPost, http.StatusCreated, 10*time.Millisecond)
	ObserveProofSubmission("accepted")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.True(t, strings.Contains(text, `nlpchain_http_requests_total{code="201",handler="/api/v1/proofs",method="POST"}`))
	assert.True(t, strings.Contains(text, `nlpchain_proof_submissions_total{result="accepted"}`))
}
