// Package ctxkey lists the gin.Context keys shared between middleware, the
// router, and controllers. Centralizing them avoids typo'd string literals
// scattered across packages.
package ctxkey

const (
	// RequestId is the per-request correlation id, also echoed as a response header.
	RequestId = "X-Proxycast-Request-Id"

	// EndpointKey is the resolved endpoint flavor (cursor, claude_code, codex, windsurf, kiro, other).
	// Set in: router.ResolveEndpoint. Read by billing/logging and the management routes listing.
	EndpointKey = "endpoint_key"

	// RequestModel is the model name as the client sent it, before alias rewriting.
	RequestModel = "request_model"

	// EffectiveModel is RequestModel after RoutingConfig.model_aliases rewriting; used for
	// rule matching and for the model name forwarded upstream.
	EffectiveModel = "effective_model"

	// ProviderType is the resolved provider type for this request (relay/channeltype).
	ProviderType = "provider_type"

	// CredentialId is the uuid of the credential.Pool selected to serve this request.
	CredentialId = "credential_id"

	// Meta holds the aggregated *meta.Meta for the request.
	Meta = "meta"

	// ManagementClientIP is the real socket-derived IP used by the rate limiter,
	// set before any X-Forwarded-For processing so spoofed headers can't bypass it.
	ManagementClientIP = "management_client_ip"
)
