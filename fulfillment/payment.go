package fulfillment

import (
	"context"
	"math/rand"
	"os"
	"strconv"

	"gamestore-svc/models"

	"github.com/google/uuid"
)

// Transaction is the processor's record of a charge attempt.
type Transaction struct {
	ID        string
	Processor string
	Last4     string
	CardType  string
	Approved  bool
}

// PaymentProcessor charges the buyer. No real gateway is wired in; the
// simulated processor stands in for one, and tests inject their own.
type PaymentProcessor interface {
	Charge(ctx context.Context, method models.PaymentMethod, amount float64) (*Transaction, error)
}

// SimulatedProcessor approves every charge unless a decline rate is
// configured. A decline is an expected business outcome, not an error.
type SimulatedProcessor struct {
	DeclineRate float64
}

func NewSimulatedProcessor() *SimulatedProcessor {
	rate := 0.0
	if v := os.Getenv("PAYMENT_DECLINE_RATE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 0 && parsed <= 1 {
			rate = parsed
		}
	}
	return &SimulatedProcessor{DeclineRate: rate}
}

func (p *SimulatedProcessor) Charge(ctx context.Context, method models.PaymentMethod, amount float64) (*Transaction, error) {
	if p.DeclineRate > 0 && rand.Float64() < p.DeclineRate {
		return &Transaction{Approved: false, Processor: string(method)}, nil
	}
	return &Transaction{
		ID:        "txn_" + uuid.NewString(),
		Processor: string(method),
		Last4:     "1234",
		CardType:  "visa",
		Approved:  true,
	}, nil
}
