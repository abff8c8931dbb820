package monitor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/giantswarm/team-broker/apperrors"
	"github.com/giantswarm/team-broker/internal/testutil"
	"github.com/giantswarm/team-broker/notify"
	"github.com/giantswarm/team-broker/providers"
	"github.com/giantswarm/team-broker/providers/mock"
	"github.com/giantswarm/team-broker/storage"
	"github.com/giantswarm/team-broker/storage/memory"
	"github.com/giantswarm/team-broker/vault"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	dests    []notify.Destinations
}

func (n *recordingNotifier) Notify(ctx context.Context, dest notify.Destinations, msg notify.Message) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	n.dests = append(n.dests, dest)
	return 1
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type fixture struct {
	monitor  *Monitor
	provider *mock.MockProvider
	notifier *recordingNotifier
	vault    *vault.Vault
	store    *memory.Store
	clock    *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	clock := testutil.NewClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))

	v, err := vault.New(vault.Config{Store: store, Encryptor: testutil.NewEncryptor(t), Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatal(err)
	}

	provider := mock.NewMockProvider()
	notifier := &recordingNotifier{}

	m, err := New(Config{
		Vault:    v,
		Teams:    store,
		Provider: provider,
		Notifier: notifier,
		Logger:   testutil.DiscardLogger(),
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &fixture{monitor: m, provider: provider, notifier: notifier, vault: v, store: store, clock: clock}
}

// addTeam creates a team owned by a fresh user, optionally with a cookie.
func (f *fixture) addTeam(t *testing.T, handle string, fields map[string]string) int64 {
	t.Helper()
	user := &storage.User{Email: handle + "@example.com", Handle: handle, PasswordHash: "x", Active: true}
	team := &storage.Team{Name: handle + "'s team"}
	if err := f.store.CreateUserWithTeam(context.Background(), user, team); err != nil {
		t.Fatal(err)
	}
	if len(fields) > 0 {
		updates := make(map[string]*string, len(fields))
		for k, v := range fields {
			updates[k] = testutil.Ptr(v)
		}
		if _, err := f.vault.Update(context.Background(), team.ID, updates, user.ID); err != nil {
			t.Fatal(err)
		}
	}
	return team.ID
}

func rejectCookies(cookies ...string) func(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
	return func(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
		for _, c := range cookies {
			if c == cookie {
				return nil, &providers.StatusError{Operation: "probe", StatusCode: http.StatusUnauthorized}
			}
		}
		return &providers.SessionInfo{UserID: 42, Name: "bot"}, nil
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing vault", cfg: Config{Teams: f.store, Provider: f.provider, Notifier: f.notifier}},
		{name: "missing teams", cfg: Config{Vault: f.vault, Provider: f.provider, Notifier: f.notifier}},
		{name: "missing provider", cfg: Config{Vault: f.vault, Teams: f.store, Notifier: f.notifier}},
		{name: "missing notifier", cfg: Config{Vault: f.vault, Teams: f.store, Provider: f.provider}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestSweep_StateTransitions(t *testing.T) {
	f := newFixture(t)
	good := f.addTeam(t, "good", map[string]string{vault.FieldSessionCookie: "good-cookie"})
	bad := f.addTeam(t, "bad", map[string]string{vault.FieldSessionCookie: "bad-cookie"})
	none := f.addTeam(t, "none", nil)

	f.provider.ProbeSessionFunc = rejectCookies("bad-cookie")

	for _, id := range []int64{good, bad, none} {
		if s := f.monitor.State(id); s != StateUnknown {
			t.Errorf("initial State(%d) = %v, want unknown", id, s)
		}
	}

	summary := f.monitor.Sweep(context.Background())
	if summary.Checked != 2 || summary.Valid != 1 || summary.Invalid != 1 || summary.Errors != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.ID == "" {
		t.Error("sweep ID is empty")
	}

	if s := f.monitor.State(good); s != StateValid {
		t.Errorf("State(good) = %v, want valid", s)
	}
	if s := f.monitor.State(bad); s != StateInvalid {
		t.Errorf("State(bad) = %v, want invalid", s)
	}
	if s := f.monitor.State(none); s != StateUnknown {
		t.Errorf("State(none) = %v, want unknown", s)
	}
}

func TestSweep_NotificationThrottle(t *testing.T) {
	f := newFixture(t)
	bad := f.addTeam(t, "bad", map[string]string{
		vault.FieldSessionCookie:     "bad-cookie",
		vault.FieldDiscordWebhookURL: "https://discord.example.com/api/webhooks/1/abc",
		vault.FieldNotificationEmail: "ops@example.com",
	})
	f.provider.ProbeSessionFunc = rejectCookies("bad-cookie")
	ctx := context.Background()

	f.monitor.Sweep(ctx)
	f.clock.Advance(time.Hour)
	f.monitor.Sweep(ctx)

	if n := f.notifier.count(); n != 1 {
		t.Fatalf("notifications after two invalid sweeps = %d, want 1", n)
	}
	msg := f.notifier.messages[0]
	if msg.TeamID != bad || msg.TeamName != "bad's team" {
		t.Errorf("message = %+v", msg)
	}
	if !strings.Contains(msg.Text, "bad's team") {
		t.Errorf("message text does not name the team: %q", msg.Text)
	}
	dest := f.notifier.dests[0]
	if dest.DiscordWebhookURL == "" || dest.Email != "ops@example.com" || dest.SlackWebhookURL != "" {
		t.Errorf("destinations = %+v", dest)
	}

	f.clock.Advance(23 * time.Hour)
	f.monitor.Sweep(ctx)
	if n := f.notifier.count(); n != 2 {
		t.Errorf("notifications after 24h = %d, want 2", n)
	}
}

func TestSweep_TransientErrorsKeepState(t *testing.T) {
	f := newFixture(t)
	id := f.addTeam(t, "flaky", map[string]string{vault.FieldSessionCookie: "cookie"})
	ctx := context.Background()

	f.monitor.Sweep(ctx)
	if s := f.monitor.State(id); s != StateValid {
		t.Fatalf("State() = %v, want valid", s)
	}

	for _, probeErr := range []error{
		&providers.StatusError{Operation: "probe", StatusCode: http.StatusBadGateway},
		context.DeadlineExceeded,
		errors.New("connection reset"),
	} {
		f.provider.ProbeSessionFunc = func(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
			return nil, probeErr
		}
		summary := f.monitor.Sweep(ctx)
		if summary.Errors != 1 {
			t.Errorf("%v: summary = %+v, want one error", probeErr, summary)
		}
		if s := f.monitor.State(id); s != StateValid {
			t.Errorf("%v: State() = %v, want valid", probeErr, s)
		}
	}
	if n := f.notifier.count(); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestSweep_PanicIsolated(t *testing.T) {
	f := newFixture(t)
	first := f.addTeam(t, "first", map[string]string{vault.FieldSessionCookie: "explode"})
	second := f.addTeam(t, "second", map[string]string{vault.FieldSessionCookie: "fine"})

	f.provider.ProbeSessionFunc = func(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
		if cookie == "explode" {
			panic("probe exploded")
		}
		return &providers.SessionInfo{UserID: 1}, nil
	}

	summary := f.monitor.Sweep(context.Background())
	if summary.Checked != 2 || summary.Errors != 1 || summary.Valid != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if s := f.monitor.State(first); s != StateUnknown {
		t.Errorf("State(first) = %v, want unknown", s)
	}
	if s := f.monitor.State(second); s != StateValid {
		t.Errorf("State(second) = %v, want valid", s)
	}
}

func TestSweep_UndecryptableCookie(t *testing.T) {
	f := newFixture(t)
	id := f.addTeam(t, "corrupt", nil)
	corrupt := "aa:bb:cc"
	if _, err := f.store.PatchCredential(context.Background(), id, storage.CredentialPatch{SessionCookie: &corrupt}); err != nil {
		t.Fatal(err)
	}

	summary := f.monitor.Sweep(context.Background())
	if summary.Errors != 1 {
		t.Errorf("summary = %+v, want one error", summary)
	}
	if n := f.provider.GetCallCount("ProbeSession"); n != 0 {
		t.Errorf("ProbeSession calls = %d, want 0", n)
	}
}

func TestCheckTeam(t *testing.T) {
	f := newFixture(t)
	good := f.addTeam(t, "good", map[string]string{vault.FieldSessionCookie: "good-cookie"})
	bad := f.addTeam(t, "bad", map[string]string{vault.FieldSessionCookie: "bad-cookie"})
	none := f.addTeam(t, "none", nil)
	f.provider.ProbeSessionFunc = rejectCookies("bad-cookie")
	ctx := context.Background()

	res, err := f.monitor.CheckTeam(ctx, good)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid == nil || !*res.IsValid || res.TeamName != "good's team" || !res.CheckedAt.Equal(f.clock.Now()) {
		t.Errorf("CheckTeam(good) = %+v", res)
	}

	res, err = f.monitor.CheckTeam(ctx, bad)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid == nil || *res.IsValid {
		t.Errorf("CheckTeam(bad) = %+v", res)
	}

	res, err = f.monitor.CheckTeam(ctx, none)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsValid != nil {
		t.Errorf("CheckTeam(none).IsValid = %v, want nil", *res.IsValid)
	}

	if _, err := f.monitor.CheckTeam(ctx, 9999); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("CheckTeam(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.addTeam(t, "team", map[string]string{vault.FieldSessionCookie: "cookie"})

	probed := make(chan struct{}, 1)
	f.provider.ProbeSessionFunc = func(ctx context.Context, cookie string) (*providers.SessionInfo, error) {
		select {
		case probed <- struct{}{}:
		default:
		}
		return &providers.SessionInfo{UserID: 1}, nil
	}

	if err := f.monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := f.monitor.Start(context.Background()); err == nil {
		t.Error("second Start() should fail while running")
	}

	select {
	case <-probed:
	case <-time.After(5 * time.Second):
		t.Fatal("first sweep did not run immediately")
	}

	f.monitor.Stop()
	f.monitor.Stop()

	if err := f.monitor.Start(context.Background()); err != nil {
		t.Errorf("Start() after Stop() error = %v", err)
	}
	f.monitor.Stop()
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{StateUnknown: "unknown", StateValid: "valid", StateInvalid: "invalid"} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
