// internal/clients/payments_client_test.go
package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInstruction() Instruction {
	return Instruction{
		InstructionID: uuid.New(),
		SubjectID:     uuid.New(),
		PayeeRole:     RoleProvider,
		Amount:        decimal.NewFromInt(9000),
	}
}

func TestEmitDeliversInstruction(t *testing.T) {
	var got Instruction
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/instructions", r.URL.Path)
		require.NoError(t, decodeJSON(r, &got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewPaymentsClient(srv.URL)
	ins := testInstruction()

	require.NoError(t, client.Emit(context.Background(), ins))
	assert.Equal(t, ins.InstructionID, got.InstructionID)
	assert.Equal(t, RoleProvider, got.PayeeRole)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(9000)))
}

func TestEmitRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewPaymentsClient(srv.URL)

	require.NoError(t, client.Emit(context.Background(), testInstruction()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEmitGivesUpAfterMaxTries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewPaymentsClient(srv.URL)

	err := client.Emit(context.Background(), testInstruction())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEmitStopsWhenBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewPaymentsClient(srv.URL)
	ctx := context.Background()

	// Two failed deliveries of three attempts each trip the breaker at
	// five consecutive failures.
	require.Error(t, client.Emit(ctx, testInstruction()))
	require.Error(t, client.Emit(ctx, testInstruction()))
	tripped := atomic.LoadInt32(&calls)
	assert.Equal(t, int32(5), tripped)

	// With the breaker open no request reaches the gateway at all.
	require.Error(t, client.Emit(ctx, testInstruction()))
	assert.Equal(t, tripped, atomic.LoadInt32(&calls))
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
