package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/httpapi"
	"github.com/goliatone/go-webhooks/inbound"
	"github.com/goliatone/go-webhooks/reconcile"
	"github.com/goliatone/go-webhooks/security"
	sqlstore "github.com/goliatone/go-webhooks/store/sql"
)

type Config = core.Config

type Option func(*engineBuilder)

type engineBuilder struct {
	runtimeConfig     Config
	logger            core.Logger
	loggerProvider    core.LoggerProvider
	metrics           core.MetricsRecorder
	configProvider    core.ConfigProvider
	optionsResolver   core.OptionsResolver
	secretResolver    core.SecretResolver
	sealer            *security.AppKeySealer
	disableCache      bool
	store             core.WatermarkStore
	persistenceClient *persistence.Client
	locker            *core.KeyedLocker
}

func WithLogger(logger core.Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metrics = recorder
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

// WithSecretResolver replaces the built-in static resolver.
func WithSecretResolver(resolver core.SecretResolver) Option {
	return func(b *engineBuilder) {
		b.secretResolver = resolver
	}
}

// WithSecretSealer requires every resolved secret to be sealed with sealer.
func WithSecretSealer(sealer *security.AppKeySealer) Option {
	return func(b *engineBuilder) {
		b.sealer = sealer
	}
}

func WithoutSecretCache() Option {
	return func(b *engineBuilder) {
		b.disableCache = true
	}
}

func WithWatermarkStore(store core.WatermarkStore) Option {
	return func(b *engineBuilder) {
		b.store = store
	}
}

// WithPersistenceClient stores watermarks in SQL through the client's bun DB.
// Migrations are the caller's concern, see GetMigrationsFS.
func WithPersistenceClient(client *persistence.Client) Option {
	return func(b *engineBuilder) {
		b.persistenceClient = client
	}
}

func WithLocker(locker *core.KeyedLocker) Option {
	return func(b *engineBuilder) {
		b.locker = locker
	}
}

// Engine owns the contract registry and everything a delivery passes through
// on its way to the integration handlers.
type Engine struct {
	config         Config
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder

	registry   *inbound.Registry
	router     *inbound.Router
	reconciler *reconcile.Reconciler
	store      core.WatermarkStore
	secrets    core.SecretResolver
	static     *security.StaticSecretResolver
	cached     *security.CachedSecretResolver
}

func New(cfg Config, opts ...Option) (*Engine, error) {
	builder := engineBuilder{runtimeConfig: cfg}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	if builder.metrics == nil {
		builder.metrics = core.NopMetricsRecorder{}
	}
	logger := core.ResolveLogger("webhooks", builder.loggerProvider, builder.logger)

	resolved, err := core.ResolveConfig(context.Background(), builder.configProvider, builder.optionsResolver, builder.runtimeConfig)
	if err != nil {
		return nil, core.WrapKindError(err, core.KindBadInput, "webhooks: invalid configuration", nil)
	}

	engine := &Engine{
		config:         resolved,
		logger:         logger,
		loggerProvider: builder.loggerProvider,
		metrics:        builder.metrics,
	}

	if err := engine.buildSecrets(builder); err != nil {
		return nil, err
	}
	if err := engine.buildStore(builder); err != nil {
		return nil, err
	}

	reconcileOpts := []reconcile.Option{
		reconcile.WithConfig(resolved.Reconcile),
		reconcile.WithMetricsRecorder(builder.metrics),
		reconcile.WithLogger(builder.logger),
		reconcile.WithLoggerProvider(builder.loggerProvider),
	}
	if builder.locker != nil {
		reconcileOpts = append(reconcileOpts, reconcile.WithLocker(builder.locker))
	}
	engine.reconciler, err = reconcile.New(engine.store, reconcileOpts...)
	if err != nil {
		return nil, err
	}

	engine.registry = inbound.NewRegistry(
		inbound.WithRegistryLogger(builder.logger),
		inbound.WithRegistryLoggerProvider(builder.loggerProvider),
	)
	engine.router, err = inbound.NewRouter(engine.registry,
		inbound.WithSecretResolver(engine.secrets),
		inbound.WithReconciler(engine.reconciler),
		inbound.WithMetricsRecorder(builder.metrics),
		inbound.WithLogger(builder.logger),
		inbound.WithLoggerProvider(builder.loggerProvider),
	)
	if err != nil {
		return nil, err
	}

	core.Log(context.Background(), logger, "info", "webhook engine ready", map[string]any{
		"service_name":    resolved.ServiceName,
		"split_watermark": resolved.Reconcile.SplitWatermark,
		"max_pages":       resolved.Reconcile.MaxPages,
	})
	return engine, nil
}

func (e *Engine) buildSecrets(builder engineBuilder) error {
	resolver := builder.secretResolver
	if resolver == nil {
		e.static = security.NewStaticSecretResolver()
		resolver = e.static
	}
	if builder.sealer != nil {
		sealed, err := security.NewSealedSecretResolver(resolver, builder.sealer)
		if err != nil {
			return err
		}
		resolver = sealed
	}
	if !builder.disableCache && e.config.Secrets.CacheTTL > 0 {
		cache, err := security.NewCacheService(e.config.Secrets)
		if err != nil {
			return core.WrapKindError(err, core.KindInternal, "webhooks: secret cache unavailable", nil)
		}
		cached, err := security.NewCachedSecretResolver(resolver, cache)
		if err != nil {
			return err
		}
		e.cached = cached
		resolver = cached
	}
	e.secrets = resolver
	return nil
}

func (e *Engine) buildStore(builder engineBuilder) error {
	switch {
	case builder.store != nil:
		e.store = builder.store
	case builder.persistenceClient != nil:
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(builder.persistenceClient)
		if err != nil {
			return err
		}
		e.store = factory.WatermarkStore()
	default:
		e.store = reconcile.NewMemoryWatermarkStore()
	}
	return nil
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

// Register adds an integration contract. Contracts without their own
// dispatcher cannot receive handlers and are rejected by the registry.
func (e *Engine) Register(contract core.IntegrationContract) error {
	if e == nil {
		return fmt.Errorf("webhooks: engine is nil")
	}
	return e.registry.Register(contract)
}

func (e *Engine) Deregister(integrationID string) bool {
	if e == nil {
		return false
	}
	return e.registry.Deregister(integrationID)
}

func (e *Engine) Contract(integrationID string) (core.IntegrationContract, bool) {
	if e == nil {
		return core.IntegrationContract{}, false
	}
	return e.registry.Get(integrationID)
}

// Dispatcher returns the dispatcher owned by a registered integration, for
// subscribing handlers.
func (e *Engine) Dispatcher(integrationID string) (core.EventDispatcher, bool) {
	contract, ok := e.Contract(integrationID)
	if !ok {
		return nil, false
	}
	return contract.Dispatcher, true
}

func (e *Engine) Route(ctx context.Context, env core.Envelope) (core.Result, error) {
	if e == nil {
		return core.Result{}, fmt.Errorf("webhooks: engine is nil")
	}
	return e.router.Route(ctx, env)
}

// ReconcileNotification runs a notification obtained out of band (a replay
// or a queued job) through the integration's reconciler.
func (e *Engine) ReconcileNotification(ctx context.Context, integrationID string, n core.Notification) (core.ReconcileOutcome, error) {
	if e == nil {
		return core.ReconcileOutcome{}, fmt.Errorf("webhooks: engine is nil")
	}
	contract, ok := e.registry.Get(integrationID)
	if !ok {
		return core.ReconcileOutcome{}, core.NewKindError(core.KindNoMatch, "integration is not registered", map[string]any{
			"integration_id": strings.TrimSpace(integrationID),
		})
	}
	if !contract.Reconciles() {
		return core.ReconcileOutcome{}, core.NewKindError(core.KindBadInput, "integration does not reconcile", map[string]any{
			"integration_id": contract.ID,
		})
	}
	return e.reconciler.Reconcile(ctx, contract, n)
}

func (e *Engine) WatermarkStore() core.WatermarkStore {
	if e == nil {
		return nil
	}
	return e.store
}

func (e *Engine) GetWatermark(ctx context.Context, integrationID string, tenantID string) (core.Watermark, bool, error) {
	if e == nil {
		return core.Watermark{}, false, fmt.Errorf("webhooks: engine is nil")
	}
	return e.store.GetWatermark(ctx, integrationID, tenantID)
}

func (e *Engine) ListWatermarks(ctx context.Context, integrationID string) ([]core.Watermark, error) {
	admin, err := e.watermarkAdmin()
	if err != nil {
		return nil, err
	}
	return admin.ListWatermarks(ctx, integrationID)
}

// ResetWatermark deletes a tenant watermark. The next notification for the
// tenant becomes a baseline and no history is fetched for it.
func (e *Engine) ResetWatermark(ctx context.Context, integrationID string, tenantID string) error {
	admin, err := e.watermarkAdmin()
	if err != nil {
		return err
	}
	if err := admin.DeleteWatermark(ctx, integrationID, tenantID); err != nil {
		return err
	}
	core.Log(ctx, e.logger, "info", "webhook watermark reset", map[string]any{
		"integration_id": strings.TrimSpace(integrationID),
		"tenant_id":      strings.TrimSpace(tenantID),
	})
	return nil
}

func (e *Engine) watermarkAdmin() (core.WatermarkAdmin, error) {
	if e == nil {
		return nil, fmt.Errorf("webhooks: engine is nil")
	}
	admin, ok := e.store.(core.WatermarkAdmin)
	if !ok {
		return nil, core.NewKindError(core.KindInternal, "webhooks: watermark store does not support administration", nil)
	}
	return admin, nil
}

// Secrets is the built-in resolver, nil when WithSecretResolver was used.
func (e *Engine) Secrets() *security.StaticSecretResolver {
	if e == nil {
		return nil
	}
	return e.static
}

// SetSecret stores a secret in the built-in resolver and drops any cached copy.
func (e *Engine) SetSecret(ctx context.Context, integrationID string, tenantID string, purpose core.SecretPurpose, secret string) error {
	if e == nil || e.static == nil {
		return core.NewKindError(core.KindBadInput, "webhooks: engine uses an external secret resolver", nil)
	}
	e.static.Set(integrationID, tenantID, purpose, secret)
	if e.cached != nil {
		return e.cached.Invalidate(ctx, integrationID, tenantID, purpose)
	}
	return nil
}

// HTTPHandler returns the chi ingress mounted at its root.
func (e *Engine) HTTPHandler(opts ...httpapi.Option) http.Handler {
	return e.HTTPAPI(opts...).Routes()
}

func (e *Engine) HTTPAPI(opts ...httpapi.Option) *httpapi.Handler {
	base := []httpapi.Option{
		httpapi.WithMaxBodyBytes(e.config.HTTP.MaxBodyBytes),
		httpapi.WithLogger(e.logger),
		httpapi.WithLoggerProvider(e.loggerProvider),
	}
	return httpapi.NewHandler(e.router, append(base, opts...)...)
}
