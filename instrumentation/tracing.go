package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span and metric attribute keys. Values must be identifiers or outcomes,
// never secrets: tokens, cookies, API keys and client secrets stay out of
// telemetry entirely.
const (
	AttrTeamID          = "broker.team_id"
	AttrUserID          = "broker.user_id"
	AttrResult          = "broker.result"
	AttrAuthMethod      = "broker.auth.method"
	AttrKeyKind         = "broker.auth.key_kind"
	AttrRefreshTrigger  = "broker.oauth.refresh_trigger"
	AttrScope           = "broker.oauth.scope"
	AttrCredentialField = "broker.vault.field"
	AttrNotifyChannel   = "broker.notify.channel"
	AttrMonitorState    = "broker.monitor.state"

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// EndSpan records err (if any) or success, then ends the span.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		RecordError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	span.End()
}

// AddTeamAttributes tags a span with the team and acting user (nil-safe)
func AddTeamAttributes(span trace.Span, teamID, userID int64) {
	if teamID != 0 {
		SetSpanAttributes(span, attribute.Int64(AttrTeamID, teamID))
	}
	if userID != 0 {
		SetSpanAttributes(span, attribute.Int64(AttrUserID, userID))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}
