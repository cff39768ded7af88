package main

import (
	"context"

	"github.com/couchcryptid/resqnet-dispatch/internal/dispatch"
	"github.com/couchcryptid/resqnet-dispatch/internal/domain"
)

// lazyPredictor forwards to the dispatch service once it has been built.
type lazyPredictor struct {
	svc *dispatch.Service
}

func (p *lazyPredictor) Predict(ctx context.Context) (domain.PredictionSnapshot, error) {
	return p.svc.Predict(ctx)
}
