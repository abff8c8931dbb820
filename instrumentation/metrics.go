package instrumentation

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the broker
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Identity
	LoginAttempts     metric.Int64Counter
	Registrations     metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// OAuth broker
	AuthorizationStarted metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	StateMismatch        metric.Int64Counter

	// Outbound auth resolution
	AuthResolved metric.Int64Counter

	// Vault
	DecryptionFailures metric.Int64Counter

	// Health monitor
	MonitorProbes     metric.Int64Counter
	NotificationsSent metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	PendingAuthorizations    metric.Int64ObservableGauge

	// Platform API
	ProviderAPICallsTotal metric.Int64Counter
	ProviderAPIDuration   metric.Float64Histogram
}

type counterSpec struct {
	dst   *metric.Int64Counter
	name  string
	desc  string
	unit  string
	scope string
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, "broker.http.requests.total", "Total number of HTTP requests", "{request}", "http"},
		{&m.LoginAttempts, "broker.login.attempts", "Login attempts by result", "{attempt}", "identity"},
		{&m.Registrations, "broker.registrations", "Accounts registered", "{user}", "identity"},
		{&m.RateLimitExceeded, "broker.rate_limit.exceeded", "Requests rejected by a rate limiter", "{violation}", "security"},
		{&m.AuthorizationStarted, "broker.oauth.authorization.started", "Authorization URLs issued", "{flow}", "broker"},
		{&m.CodeExchanged, "broker.oauth.code.exchanged", "Authorization codes exchanged, by result", "{exchange}", "broker"},
		{&m.TokenRefreshed, "broker.oauth.token.refreshed", "Platform token refreshes, by result", "{refresh}", "broker"},
		{&m.TokenRevoked, "broker.oauth.token.revoked", "Platform token revocations, by upstream result", "{revocation}", "broker"},
		{&m.StateMismatch, "broker.oauth.state.mismatch", "Callbacks with unknown, expired or replayed state", "{callback}", "broker"},
		{&m.AuthResolved, "broker.auth.resolved", "Outbound authentication resolutions, by method", "{resolution}", "broker"},
		{&m.DecryptionFailures, "broker.vault.decryption.failures", "Stored secrets that failed to decrypt", "{failure}", "vault"},
		{&m.MonitorProbes, "broker.monitor.probes", "Session credential probes, by result", "{probe}", "monitor"},
		{&m.NotificationsSent, "broker.monitor.notifications", "Notifications dispatched, by channel and result", "{notification}", "monitor"},
		{&m.StorageOperationTotal, "storage.operation.total", "Storage operations, by operation and result", "{operation}", "storage"},
		{&m.ProviderAPICallsTotal, "provider.api.calls.total", "Platform API calls, by operation and status", "{call}", "provider"},
	}

	for _, c := range counters {
		counter, err := inst.Meter(c.scope).Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = inst.Meter("http").Float64Histogram("broker.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = inst.Meter("storage").Float64Histogram("storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.ProviderAPIDuration, err = inst.Meter("provider").Float64Histogram("provider.api.duration",
		metric.WithDescription("Platform API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider.api.duration histogram: %w", err)
	}

	m.PendingAuthorizations, err = inst.Meter("storage").Int64ObservableGauge("broker.pending_authorizations",
		metric.WithDescription("Pending OAuth authorizations awaiting their callback"),
		metric.WithUnit("{authorization}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending_authorizations gauge: %w", err)
	}

	return m, nil
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.String(AttrHTTPStatusCode, strconv.Itoa(statusCode)),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrHTTPEndpoint, endpoint),
	))
}

// RecordLogin records a login attempt
func (m *Metrics) RecordLogin(ctx context.Context, err error) {
	m.LoginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, resultOf(err))))
}

// RecordRegistration records a successful registration
func (m *Metrics) RecordRegistration(ctx context.Context) {
	m.Registrations.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrHTTPEndpoint, endpoint)))
}

// RecordAuthorizationStarted records an issued authorization URL
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context) {
	m.AuthorizationStarted.Add(ctx, 1)
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, err error) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, resultOf(err))))
}

// RecordTokenRefresh records a refresh. trigger is "manual" or "resolver".
func (m *Metrics) RecordTokenRefresh(ctx context.Context, trigger string, err error) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrRefreshTrigger, trigger),
		attribute.String(AttrResult, resultOf(err)),
	))
}

// RecordTokenRevocation records a revocation and whether the platform accepted it
func (m *Metrics) RecordTokenRevocation(ctx context.Context, upstreamErr error) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, resultOf(upstreamErr))))
}

// RecordStateMismatch records a rejected callback state
func (m *Metrics) RecordStateMismatch(ctx context.Context) {
	m.StateMismatch.Add(ctx, 1)
}

// RecordAuthResolved records which outbound method was selected ("none" on failure)
func (m *Metrics) RecordAuthResolved(ctx context.Context, method string) {
	m.AuthResolved.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrAuthMethod, method)))
}

// RecordDecryptionFailure records a stored field that could not be decrypted
func (m *Metrics) RecordDecryptionFailure(ctx context.Context, field string) {
	m.DecryptionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrCredentialField, field)))
}

// RecordMonitorProbe records a probe outcome ("valid", "invalid", "error")
func (m *Metrics) RecordMonitorProbe(ctx context.Context, outcome string) {
	m.MonitorProbes.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrResult, outcome)))
}

// RecordNotification records a notification attempt on a channel
func (m *Metrics) RecordNotification(ctx context.Context, channel string, err error) {
	m.NotificationsSent.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrNotifyChannel, channel),
		attribute.String(AttrResult, resultOf(err)),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrStorageOperation, operation),
	))
}

// RecordProviderAPICall records a call to the platform. statusCode is 0 for
// transport failures.
func (m *Metrics) RecordProviderAPICall(ctx context.Context, operation string, statusCode int, durationMs float64) {
	m.ProviderAPICallsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrProviderOperation, operation),
		attribute.String(AttrProviderStatus, strconv.Itoa(statusCode)),
	))
	m.ProviderAPIDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrProviderOperation, operation),
	))
}
