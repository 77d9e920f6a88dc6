package router

import (
	"github.com/systematics/examclient/internal/authz"
	"github.com/systematics/examclient/internal/models"
)

const (
	TitleSuffix  = "Systematics"
	DefaultTitle = "Online exam platform"
)

var (
	student    = []models.Role{models.RoleStudent}
	teacher    = []models.Role{models.RoleTeacher}
	supervisor = []models.Role{models.RoleSupervisor}
	staff      = []models.Role{models.RoleTeacher, models.RoleSupervisor}
)

// DefaultRoutes is the route table of the exam client.
func DefaultRoutes() []authz.Route {
	return []authz.Route{
		{Path: "/login", Name: "login", Title: "Sign in"},
		{Path: "/unauthorized", Name: "unauthorized", Title: "Session expired"},
		{Path: "/forbidden", Name: "forbidden", Title: "Access denied"},
		{Path: "/dashboard", Name: "dashboard", Title: "Dashboard", RequiresAuth: true, RequiresRole: student},
		{Path: "/exams", Name: "exams", Title: "My exams", RequiresAuth: true, RequiresRole: student},
		{Path: "/exams/:id/attempt", Name: "exam-attempt", Title: "Exam attempt", RequiresAuth: true, RequiresRole: student},
		{Path: "/transcript", Name: "transcript", Title: "Transcript", RequiresAuth: true, RequiresRole: student},
		{Path: "/courses", Name: "courses", Title: "Courses", RequiresAuth: true, RequiresRole: staff},
		{Path: "/courses/:id/exams", Name: "course-exams", Title: "Course exams", RequiresAuth: true, RequiresRole: teacher},
		{Path: "/analytics", Name: "analytics", Title: "Analytics", RequiresAuth: true, RequiresRole: staff},
		{Path: "/users", Name: "users", Title: "Users", RequiresAuth: true, RequiresRole: supervisor},
	}
}

// SharedRoutes are open to every role whatever their declared requirement.
func SharedRoutes() []string {
	return []string{"/dashboard"}
}

// PageTitle formats the document title for a route title.
func PageTitle(title string) string {
	if title == "" {
		title = DefaultTitle
	}
	return title + " | " + TitleSuffix
}

// TitleHook returns a hook that sets the document title of r from the
// matched route.
func TitleHook(r *Router) HookFunc {
	return func(to Match) {
		r.SetTitle(PageTitle(to.Route.Title))
	}
}
