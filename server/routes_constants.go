package server

// Route path constants
const (
	// SMART connection routes
	RouteSmartLaunch     = "/smart/launch"
	RouteSmartCallback   = "/smart/callback"
	RouteSmartStatus     = "/smart/status"
	RouteSmartRefresh    = "/smart/refresh"
	RouteSmartDisconnect = "/smart/disconnect"

	// FHIR submission
	RouteSmartPostDocumentReference = "/smart/post-document-reference"

	// Operations
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)
