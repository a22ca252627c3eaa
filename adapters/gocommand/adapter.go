package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	webhookcommand "github.com/goliatone/go-webhooks/command"
)

// Service is what the webhook commands drive; the root Engine satisfies it.
type Service interface {
	webhookcommand.ReconcileService
	webhookcommand.RouteService
}

// ValidateMessageContract enforces Type() plus the optional Validate().
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can also run from a worker.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// RegisterAndSubscribe registers cmd and subscribes it on the global
// dispatcher, undoing the subscription if registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// RegisterWebhookCommands wires the reconcile and route commands for service.
// Unsubscribe the returned subscriptions to detach them.
func RegisterWebhookCommands(
	adapter *RegistryAdapter,
	service Service,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if service == nil {
		return nil, fmt.Errorf("gocommand: webhook service is required")
	}
	reconcileSub, err := RegisterAndSubscribe(adapter, webhookcommand.NewReconcileCommand(service), runnerOpts...)
	if err != nil {
		return nil, err
	}
	routeSub, err := RegisterAndSubscribe(adapter, webhookcommand.NewRouteCommand(service), runnerOpts...)
	if err != nil {
		reconcileSub.Unsubscribe()
		return nil, err
	}
	return []commanddispatcher.Subscription{reconcileSub, routeSub}, nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}
