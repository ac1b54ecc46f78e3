package client

// DefaultDashboard is where sessions with an unknown role land. Unknown roles
// should not exist; if one shows up, the generic page is the safe landing.
const DefaultDashboard = "/dashboard"

var dashboardByRole = map[string]string{
	"admin":  "/admin/dashboard",
	"tutor":  "/tutors/dashboard",
	"parent": "/parents/dashboard",
	"child":  "/children/dashboard",
}

// DashboardPath maps a role to its dashboard route. Routing convenience only;
// the server-side guards decide what the session can actually do.
func DashboardPath(role string) string {
	if path, ok := dashboardByRole[role]; ok {
		return path
	}
	return DefaultDashboard
}
