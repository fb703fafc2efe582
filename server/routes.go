package server

import "github.com/jrsteele09/go-ehr-connect/internal/metrics"

func (s *Server) initRoutes() {
	// Browser redirects
	s.RegisterRouteHandler("GET "+RouteSmartLaunch, ChainMiddleware(s.SmartLaunchHandler(), s.RedirectMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSmartCallback, ChainMiddleware(s.SmartCallbackHandler(), s.RedirectMiddleware()...))

	// JSON API
	s.RegisterRouteHandler("GET "+RouteSmartStatus, ChainMiddleware(s.SmartStatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSmartRefresh, ChainMiddleware(s.SmartRefreshHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSmartDisconnect, ChainMiddleware(s.SmartDisconnectHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSmartPostDocumentReference, ChainMiddleware(s.PostDocumentReferenceHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS /smart/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteHealthz, s.HealthzHandler())
	s.RegisterRouteHandler("GET "+RouteMetrics, metrics.Handler())
}
