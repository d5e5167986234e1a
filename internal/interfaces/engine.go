package interfaces

import (
	"context"

	"ml-crypto-trader/internal/types"
)

type Engine interface {
	Step(ctx context.Context, symbol string) (*types.StepResult, error)
}
