package audithook

// Action constants for audit events.
const (
	// Balance actions
	ActionBalanceInitialized = "balance.initialized"
	ActionBalanceReset       = "balance.reset"
	ActionBalanceDowngraded  = "balance.downgraded"

	// Token actions
	ActionTokensDebited      = "tokens.debited"
	ActionTokensRefused      = "tokens.refused"
	ActionTokensGranted      = "tokens.granted"
	ActionTransactionLogLost = "transaction.log_failed"

	// Subscription actions
	ActionSubscriptionSynced   = "subscription.synced"
	ActionSubscriptionCanceled = "subscription.canceled"

	// Webhook actions
	ActionWebhookReceived = "webhook.received"
	ActionWebhookDropped  = "webhook.dropped"
)

// actionCategories lists every action with the category it is recorded under.
var actionCategories = []struct{ action, category string }{
	{ActionBalanceInitialized, CategoryUsage},
	{ActionBalanceReset, CategoryUsage},
	{ActionBalanceDowngraded, CategorySubscription},
	{ActionTokensDebited, CategoryUsage},
	{ActionTokensRefused, CategoryUsage},
	{ActionTokensGranted, CategorySubscription},
	{ActionTransactionLogLost, CategoryUsage},
	{ActionSubscriptionSynced, CategorySubscription},
	{ActionSubscriptionCanceled, CategorySubscription},
	{ActionWebhookReceived, CategoryIntegration},
	{ActionWebhookDropped, CategoryIntegration},
}

// Resource constants for audit events.
const (
	ResourceBalance      = "balance"
	ResourceTransaction  = "transaction"
	ResourceSubscription = "subscription"
	ResourceWebhook      = "webhook"
)

// Category constants for audit events.
const (
	CategoryUsage        = "usage"
	CategorySubscription = "subscription"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
