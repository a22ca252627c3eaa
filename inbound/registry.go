package inbound

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/signature"
)

type RegistryOption func(*Registry)

func WithRegistryLogger(logger core.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRegistryLoggerProvider(provider core.LoggerProvider) RegistryOption {
	return func(r *Registry) {
		r.loggerProvider = provider
	}
}

// Registry owns the set of integration contracts known to the engine.
type Registry struct {
	mu             sync.RWMutex
	contracts      map[string]core.IntegrationContract
	order          []string
	logger         core.Logger
	loggerProvider core.LoggerProvider
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{contracts: map[string]core.IntegrationContract{}}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = core.ResolveLogger("webhooks.registry", r.loggerProvider, r.logger)
	return r
}

func NormalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register validates and stores contract. Contracts without a secret are
// refused unless they opt out with AllowUnsigned.
func (r *Registry) Register(contract core.IntegrationContract) error {
	if r == nil {
		return inboundInternal("inbound: registry is nil", nil)
	}
	contract.ID = NormalizeID(contract.ID)
	contract.SecretRef = strings.TrimSpace(contract.SecretRef)
	if err := validateContract(contract); err != nil {
		return err
	}
	if contract.Verifier == nil {
		contract.Verifier = signature.Generic(contract.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.contracts[contract.ID]; exists {
		return inboundConflict(
			fmt.Sprintf("inbound: integration %q already registered", contract.ID),
			map[string]any{"integration_id": contract.ID},
		)
	}
	if owner, shared := r.dispatcherOwnerLocked(contract.Dispatcher); shared {
		return inboundConflict(
			fmt.Sprintf("inbound: integration %q reuses the dispatcher owned by %q", contract.ID, owner),
			map[string]any{"integration_id": contract.ID, "owner_id": owner},
		)
	}
	r.contracts[contract.ID] = contract
	r.order = append(r.order, contract.ID)

	if contract.Unsigned() {
		core.Log(context.Background(), r.logger, "warn", "integration registered without webhook secret; signature verification is disabled", map[string]any{
			"integration_id": contract.ID,
			"allow_unsigned": true,
		})
	}
	return nil
}

// dispatcherOwnerLocked reports which registered contract already owns
// dispatcher. Dispatchers of non-comparable types are never considered shared.
func (r *Registry) dispatcherOwnerLocked(dispatcher core.EventDispatcher) (string, bool) {
	if dispatcher == nil || !reflect.TypeOf(dispatcher).Comparable() {
		return "", false
	}
	for _, id := range r.order {
		existing := r.contracts[id].Dispatcher
		if existing == nil || reflect.TypeOf(existing) != reflect.TypeOf(dispatcher) {
			continue
		}
		if existing == dispatcher {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) Deregister(id string) bool {
	if r == nil {
		return false
	}
	id = NormalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contracts[id]; !ok {
		return false
	}
	delete(r.contracts, id)
	for index, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:index:index], r.order[index+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) Get(id string) (core.IntegrationContract, bool) {
	if r == nil {
		return core.IntegrationContract{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	contract, ok := r.contracts[NormalizeID(id)]
	return contract, ok
}

// List returns contracts in registration order.
func (r *Registry) List() []core.IntegrationContract {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.IntegrationContract, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.contracts[id])
	}
	return out
}

// Match returns every contract whose matcher claims env.
func (r *Registry) Match(env core.Envelope) []core.IntegrationContract {
	matches := []core.IntegrationContract{}
	for _, contract := range r.List() {
		if safeMatch(contract.Matcher, env) {
			matches = append(matches, contract)
		}
	}
	return matches
}

func validateContract(contract core.IntegrationContract) error {
	metadata := map[string]any{"integration_id": contract.ID}
	if contract.ID == "" {
		return inboundBadInput("inbound: integration id is required", nil)
	}
	if contract.Matcher == nil {
		return inboundBadInput("inbound: integration matcher is required", metadata)
	}
	if contract.Dispatcher == nil {
		return inboundBadInput("inbound: integration dispatcher is required", metadata)
	}
	if contract.SecretRef == "" && !contract.AllowUnsigned {
		return inboundBadInput(
			"inbound: integration requires a webhook secret reference or an explicit AllowUnsigned opt-out",
			metadata,
		)
	}
	if contract.Reconciler != nil {
		if contract.Reconciler.FetchDelta == nil {
			return inboundBadInput("inbound: reconciler fetch delta is required", metadata)
		}
		if contract.ParseNotification == nil {
			return inboundBadInput("inbound: reconciling integration requires a notification parser", metadata)
		}
		return nil
	}
	if contract.ParseEvent == nil {
		return inboundBadInput("inbound: integration requires an event parser or a reconciler", metadata)
	}
	return nil
}

// safeMatch treats a panicking matcher as a non-match.
func safeMatch(matcher core.Matcher, env core.Envelope) (matched bool) {
	if matcher == nil {
		return false
	}
	defer func() {
		if recover() != nil {
			matched = false
		}
	}()
	return matcher(env)
}
