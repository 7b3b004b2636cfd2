package api

// API route path constants, relative to the configured base path.
// Centralizes all endpoint paths to ensure consistency across the application
const (
	// Conversion routes
	RouteDownload  = "/download"
	RouteProgress  = "/progress/"
	RouteFile      = "/file/"
	RouteThumbnail = "/thumbnail/"

	// Health routes
	RouteHealth = "/health"

	// Admin routes
	RouteAdminHealth        = "/admin/health"
	RouteAdminUpdateCookies = "/admin/update-cookies"
	RouteAdminLogs          = "/admin/logs"
)
