package auth_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-authcore"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func newTestRepos(t *testing.T) auth.RepositoryManager {
	t.Helper()

	repos := auth.NewRepositoryManager(newTestDB(t))
	require.NoError(t, repos.Migrate(context.Background()))
	return repos
}

func testOptions() *auth.Options {
	opts := auth.DefaultOptions()
	opts.SigningKey = testSigningKey
	opts.Issuer = "authcore-test"
	opts.DenialAuditing = true
	return opts
}

func testHasher() auth.BcryptHasher {
	return auth.BcryptHasher{Cost: bcrypt.MinCost}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type activityRecorder struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (r *activityRecorder) Record(_ context.Context, event auth.ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *activityRecorder) ofType(eventType auth.ActivityEventType) []auth.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []auth.ActivityEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) has(level, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c.level == level && c.message == message {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	svc      *auth.Service
	repos    auth.RepositoryManager
	clock    *testClock
	activity *activityRecorder
}

func newServiceFixture(t *testing.T, opts *auth.Options, extra ...auth.ServiceOption) *serviceFixture {
	t.Helper()

	if opts == nil {
		opts = testOptions()
	}

	f := &serviceFixture{
		repos:    newTestRepos(t),
		clock:    newTestClock(),
		activity: &activityRecorder{},
	}

	base := []auth.ServiceOption{
		auth.WithPasswordHasher(testHasher()),
		auth.WithClock(f.clock.Now),
		auth.WithActivity(f.activity),
		auth.WithServiceLogger(&captureLogger{}),
	}

	f.svc = auth.NewService(opts, f.repos, append(base, extra...)...)
	return f
}

func (f *serviceFixture) register(t *testing.T, kind auth.RoleKind, identifier, secret, tenant string) *auth.Authorized {
	t.Helper()

	out, err := f.svc.Register(context.Background(), auth.RegisterRequest{
		Kind:       kind,
		Identifier: identifier,
		Secret:     secret,
		TenantID:   tenant,
	})
	require.NoError(t, err)
	return out
}

func (f *serviceFixture) auditFor(t *testing.T, targetType, targetID string) []*auth.AuditEntry {
	t.Helper()

	entries, err := f.repos.AuditEntries().ForTarget(context.Background(), targetType, targetID)
	require.NoError(t, err)
	return entries
}

func boolRef(b bool) *bool {
	return &b
}
