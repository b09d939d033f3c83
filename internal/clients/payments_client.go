// internal/clients/payments_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

type PayeeRole string

const (
	RoleClient   PayeeRole = "client"
	RoleProvider PayeeRole = "provider"
	RoleRenter   PayeeRole = "renter"
	RoleOwner    PayeeRole = "owner"
)

// Instruction tells the external payments collaborator to move funds.
// The collaborator is idempotent per InstructionID, so redelivery is safe.
type Instruction struct {
	InstructionID uuid.UUID       `json:"instruction_id"`
	SubjectID     uuid.UUID       `json:"subject_id"`
	PayeeRole     PayeeRole       `json:"payee_role"`
	Amount        decimal.Decimal `json:"amount"`
}

// Emitter is what the escrow and deposit services need from this client.
type Emitter interface {
	Emit(ctx context.Context, ins Instruction) error
}

// PaymentsClient delivers instructions over HTTP. The call sits on the
// money path, so it fails fast: a circuit breaker trips after repeated
// gateway failures and each delivery retries a bounded number of times.
type PaymentsClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewPaymentsClient(baseURL string) *PaymentsClient {
	return &PaymentsClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "payments",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

func (c *PaymentsClient) Emit(ctx context.Context, ins Instruction) error {
	operation := func() (struct{}, error) {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.post(ctx, ins)
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			// Gateway is known-down; retrying inside this call would
			// only hold up the transition.
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return fmt.Errorf("deliver instruction %s: %w", ins.InstructionID, err)
	}
	return nil
}

func (c *PaymentsClient) post(ctx context.Context, ins Instruction) error {
	body, err := json.Marshal(ins)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/instructions", c.baseURL), bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
