package webhooks_test

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	webhooks "github.com/goliatone/go-webhooks"
	"github.com/goliatone/go-webhooks/adapters/gojob"
	webhookcommand "github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	webhookmigrations "github.com/goliatone/go-webhooks/migrations"
	"github.com/goliatone/go-webhooks/providers/devkit"
	"github.com/goliatone/go-webhooks/providers/github"
	"github.com/goliatone/go-webhooks/providers/gmail"
	webhookquery "github.com/goliatone/go-webhooks/query"
)

const mailbox = "user@example.com"

func TestEngine_RoutesSignedGitHubDeliveryOverHTTP(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	if err := engine.SetSecret(ctx, github.IntegrationID, "", core.SecretPurposeWebhook, devkit.FixtureSecret); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	contract, err := github.New(github.Config{})
	if err != nil {
		t.Fatalf("github contract: %v", err)
	}
	if err := engine.Register(contract); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := &recorder{}
	dispatcher, ok := engine.Dispatcher(github.IntegrationID)
	if !ok {
		t.Fatalf("expected github dispatcher")
	}
	dispatcher.On("issues.opened", rec)

	fixture := devkit.GitHubFixture()
	handler := engine.HTTPHandler()
	for _, path := range []string{"/", "/github"} {
		resp := post(handler, path, fixture.Envelope)
		if resp.Code != http.StatusOK {
			t.Fatalf("POST %s: expected 200, got %d (%s)", path, resp.Code, resp.Body.String())
		}
	}
	if got := rec.types(); len(got) != 2 || got[0] != "issues.opened" {
		t.Fatalf("unexpected dispatched events %v", got)
	}
	if rec.events[0].TenantID != "acme" || rec.events[0].IntegrationID != github.IntegrationID {
		t.Fatalf("unexpected event stamp %#v", rec.events[0])
	}

	if resp := post(handler, "/sheets", fixture.Envelope); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown routing token, got %d", resp.Code)
	}
}

func TestEngine_RejectsTamperedDelivery(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	_ = engine.SetSecret(ctx, github.IntegrationID, "", core.SecretPurposeWebhook, devkit.FixtureSecret)
	contract, _ := github.New(github.Config{})
	if err := engine.Register(contract); err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := &recorder{}
	dispatcher, _ := engine.Dispatcher(github.IntegrationID)
	dispatcher.On("issues.opened", rec)

	fixture := devkit.GitHubFixture()
	body := bytes.Replace(fixture.Envelope.RawBody(), []byte("opened"), []byte("closed"), 1)
	tampered := core.NewEnvelope(core.EnvelopeInput{Headers: fixture.Envelope.Headers(), Body: body})

	resp := post(engine.HTTPHandler(), "/", tampered)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if len(rec.types()) != 0 {
		t.Fatalf("expected no dispatch for a tampered delivery")
	}
}

func TestEngine_ReconcilesGmailNotifications(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	server := newHistoryServer(t)
	contract := registerGmail(t, engine, server.URL)

	rec := &recorder{}
	contract.Dispatcher.On(gmail.EventMessageReceived, rec)
	contract.Dispatcher.On(gmail.EventMailboxChanged, rec)

	first, err := engine.Route(ctx, devkit.GmailFixture(mailbox, "1000").Envelope)
	if err != nil {
		t.Fatalf("route baseline: %v", err)
	}
	if first.Reconcile == nil || !first.Reconcile.Baseline {
		t.Fatalf("expected baseline outcome, got %#v", first.Reconcile)
	}
	if got := rec.types(); len(got) != 1 || got[0] != gmail.EventMailboxChanged {
		t.Fatalf("expected one coarse event on baseline, got %v", got)
	}

	if _, err := engine.Route(ctx, devkit.GmailFixture(mailbox, "1050").Envelope); err != nil {
		t.Fatalf("route steady state: %v", err)
	}
	got := rec.types()
	want := []string{gmail.EventMailboxChanged, gmail.EventMessageReceived, gmail.EventMailboxChanged}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	watermark, found, err := engine.WatermarkStore().GetWatermark(ctx, gmail.IntegrationID, mailbox)
	if err != nil || !found {
		t.Fatalf("expected stored watermark, found=%v err=%v", found, err)
	}
	if watermark.Notified != "1050" {
		t.Fatalf("expected watermark 1050, got %q", watermark.Notified)
	}
}

func TestEngine_ReconcileNotificationRejectsUnknownAndDirectIntegrations(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	_ = engine.SetSecret(ctx, github.IntegrationID, "", core.SecretPurposeWebhook, devkit.FixtureSecret)
	contract, _ := github.New(github.Config{})
	if err := engine.Register(contract); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := engine.ReconcileNotification(ctx, "missing", core.Notification{Cursor: "1"})
	if core.KindOf(err) != core.KindNoMatch {
		t.Fatalf("expected no match, got %v", err)
	}
	_, err = engine.ReconcileNotification(ctx, github.IntegrationID, core.Notification{Cursor: "1"})
	if core.KindOf(err) != core.KindBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}

	if !engine.Deregister(github.IntegrationID) {
		t.Fatalf("expected deregistration")
	}
	if _, ok := engine.Dispatcher(github.IntegrationID); ok {
		t.Fatalf("expected dispatcher to be gone after deregistration")
	}
}

func TestEngine_RunsQueuedReconcileJob(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	server := newHistoryServer(t)
	registerGmail(t, engine, server.URL)

	queued := &capturingEnqueuer{}
	msg := webhookcommand.ReconcileMessage{IntegrationID: gmail.IntegrationID, TenantID: mailbox, Cursor: "1000"}
	if err := gojob.NewEnqueuer(queued).EnqueueReconcile(ctx, msg); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	runner, err := gojob.NewRunner(engine)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	delivery := &capturingDelivery{msg: queued.last}
	if err := runner.Run(ctx, delivery, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !delivery.acked {
		t.Fatalf("expected ack, nack=%#v", delivery.nack)
	}
	watermark, found, _ := engine.WatermarkStore().GetWatermark(ctx, gmail.IntegrationID, mailbox)
	if !found || watermark.Notified != "1000" {
		t.Fatalf("expected queued reconcile to set watermark, got %#v", watermark)
	}
}

func TestEngine_PersistsWatermarksThroughPersistenceClient(t *testing.T) {
	ctx := context.Background()
	client := newSQLiteClient(t)

	engine, err := webhooks.New(core.DefaultConfig(), webhooks.WithPersistenceClient(client))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	server := newHistoryServer(t)
	registerGmail(t, engine, server.URL)

	if _, err := engine.ReconcileNotification(ctx, gmail.IntegrationID, core.Notification{TenantID: mailbox, Cursor: "1000"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := engine.ReconcileNotification(ctx, gmail.IntegrationID, core.Notification{TenantID: mailbox, Cursor: "1050"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	var cursor string
	if err := client.DB().NewRaw(
		"SELECT notified_cursor FROM webhook_watermarks WHERE integration_id = ? AND tenant_id = ?",
		gmail.IntegrationID, mailbox,
	).Scan(ctx, &cursor); err != nil {
		t.Fatalf("read watermark row: %v", err)
	}
	if cursor != "1050" {
		t.Fatalf("expected persisted cursor 1050, got %q", cursor)
	}
}

func TestEngine_WatermarkAdministrationThroughQueriesAndCommands(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t)
	server := newHistoryServer(t)
	registerGmail(t, engine, server.URL)

	if _, err := engine.ReconcileNotification(ctx, gmail.IntegrationID, core.Notification{TenantID: mailbox, Cursor: "1000"}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	got, err := webhookquery.NewGetWatermarkQuery(engine).Query(ctx, webhookquery.GetWatermarkMessage{IntegrationID: gmail.IntegrationID, TenantID: mailbox})
	if err != nil || got.Notified != "1000" {
		t.Fatalf("expected watermark 1000, got %#v err=%v", got, err)
	}
	listed, err := webhookquery.NewListWatermarksQuery(engine).Query(ctx, webhookquery.ListWatermarksMessage{IntegrationID: gmail.IntegrationID})
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected one watermark, got %#v err=%v", listed, err)
	}

	reset := webhookcommand.NewResetWatermarkCommand(engine)
	if err := reset.Execute(ctx, webhookcommand.ResetWatermarkMessage{IntegrationID: gmail.IntegrationID, TenantID: mailbox}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	outcome, err := engine.ReconcileNotification(ctx, gmail.IntegrationID, core.Notification{TenantID: mailbox, Cursor: "1050"})
	if err != nil {
		t.Fatalf("reconcile after reset: %v", err)
	}
	if !outcome.Baseline {
		t.Fatalf("expected baseline after reset, got %#v", outcome)
	}
}

func TestEngine_RejectsInvalidConfiguration(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Reconcile.MaxPages = -1
	if _, err := webhooks.New(cfg); err == nil {
		t.Fatalf("expected invalid configuration error")
	}
}

func newEngine(t *testing.T) *webhooks.Engine {
	t.Helper()
	engine, err := webhooks.New(core.DefaultConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func registerGmail(t *testing.T, engine *webhooks.Engine, baseURL string) core.IntegrationContract {
	t.Helper()
	ctx := context.Background()
	if err := engine.SetSecret(ctx, gmail.IntegrationID, "", core.SecretPurposeWebhook, devkit.FixtureSecret); err != nil {
		t.Fatalf("set webhook secret: %v", err)
	}
	if err := engine.SetSecret(ctx, gmail.IntegrationID, mailbox, core.SecretPurposeEndpoint, "access-token"); err != nil {
		t.Fatalf("set endpoint token: %v", err)
	}
	contract, err := gmail.New(gmail.Config{BaseURL: baseURL, Credentials: engine.Secrets()})
	if err != nil {
		t.Fatalf("gmail contract: %v", err)
	}
	if err := engine.Register(contract); err != nil {
		t.Fatalf("register gmail: %v", err)
	}
	return contract
}

func newHistoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("startHistoryId") != "1000" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"history":[{"id":"1001","messagesAdded":[{"message":{"id":"m-1","threadId":"th-1"}}]}],"historyId":"1050"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func post(handler http.Handler, path string, env core.Envelope) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(env.RawBody()))
	for key, value := range env.Headers() {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

type recorder struct {
	mu     sync.Mutex
	events []core.DomainEvent
}

func (r *recorder) Handle(_ context.Context, event core.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

type capturingEnqueuer struct {
	last *job.ExecutionMessage
}

func (c *capturingEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	c.last = msg
	return nil
}

type capturingDelivery struct {
	msg   *job.ExecutionMessage
	acked bool
	nack  queue.NackOptions
}

func (d *capturingDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *capturingDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *capturingDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.nack = opts
	return nil
}

type sqliteConfig struct {
	dsn string
}

func (c sqliteConfig) GetDebug() bool                { return false }
func (c sqliteConfig) GetDriver() string             { return "sqlite3" }
func (c sqliteConfig) GetServer() string             { return c.dsn }
func (c sqliteConfig) GetPingTimeout() time.Duration { return time.Second }
func (c sqliteConfig) GetOtelIdentifier() string     { return "go-webhooks-engine-tests" }

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:webhooks-engine-%d?mode=memory&cache=shared", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	client, err := persistence.New(sqliteConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if err := webhookmigrations.RegisterDialect(ctx, "sqlite3", func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}); err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return client
}
