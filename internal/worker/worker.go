package worker

import (
	"context"

	"storefront/internal/broker"
	"storefront/internal/service"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// FulfilmentWorker applies status changes reported by the fulfilment topic
type FulfilmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	lifecycle    *service.LifecycleService
	logger       *zap.Logger
}

// NewFulfilmentWorker creates a new fulfilment worker
func NewFulfilmentWorker(
	consumer *broker.Consumer,
	lifecycle *service.LifecycleService,
) *FulfilmentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderStatusChanged(lifecycle.HandleStatusChanged)

	return &FulfilmentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		lifecycle:    lifecycle,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *FulfilmentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting fulfilment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfilmentWorker) Stop() error {
	w.logger.Info("Stopping fulfilment worker")
	return w.consumer.Close()
}
