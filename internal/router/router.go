// Package router is the navigation mechanism of the client. It resolves
// paths against a route table, asks the registered guard before every
// transition and runs post-navigation hooks.
package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/systematics/examclient/internal/authz"
)

const (
	defaultMaxRedirects = 5
	defaultRootRedirect = "/login"
)

var (
	ErrNotFound          = errors.New("route not found")
	ErrNavigationDenied  = errors.New("navigation denied")
	ErrTooManyRedirects  = errors.New("too many redirects")
	ErrGuardRegistered   = errors.New("navigation guard already registered")
	ErrDuplicateRoute    = errors.New("duplicate route")
	ErrInvalidRoutePath  = errors.New("route path must start with /")
	errRootRedirectCycle = errors.New("root redirect points at root")
)

// GuardFunc decides whether navigation to a route may proceed.
type GuardFunc func(to authz.Route, from string) authz.Decision

// HookFunc runs after a navigation has been committed.
type HookFunc func(to Match)

// Match is a resolved location.
type Match struct {
	Route  authz.Route
	Path   string
	Params map[string]string
}

// Options configures a Router.
type Options struct {
	// RootRedirect is where "/" leads. Defaults to /login.
	RootRedirect string

	// MaxRedirects bounds guard redirects per navigation. Defaults to 5.
	MaxRedirects int
}

// Router holds the route table and the current location. It is safe for
// concurrent use; guards and hooks run outside the router lock.
type Router struct {
	mux    *mux.Router
	routes map[string]authz.Route
	opts   Options

	mu      sync.Mutex
	guard   GuardFunc
	after   []HookFunc
	current Match
	history []string
	title   string
}

// New creates a router for routes.
func New(routes []authz.Route, opts Options) (*Router, error) {
	if opts.RootRedirect == "" {
		opts.RootRedirect = defaultRootRedirect
	}
	if opts.RootRedirect == "/" {
		return nil, errRootRedirectCycle
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}

	r := &Router{
		mux:    mux.NewRouter(),
		routes: make(map[string]authz.Route, len(routes)),
		opts:   opts,
	}

	for _, route := range routes {
		if !strings.HasPrefix(route.Path, "/") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRoutePath, route.Path)
		}
		if _, exists := r.routes[route.Path]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, route.Path)
		}
		r.routes[route.Path] = route
		r.mux.Path(muxTemplate(route.Path)).Name(route.Path)
	}

	return r, nil
}

// BeforeEach registers the navigation guard. Only one guard may be
// registered for the router's lifetime.
func (r *Router) BeforeEach(guard GuardFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.guard != nil {
		return ErrGuardRegistered
	}
	r.guard = guard
	return nil
}

// AfterEach registers a hook that runs after every committed navigation.
func (r *Router) AfterEach(hook HookFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, hook)
}

// Resolve matches path against the route table without navigating.
func (r *Router) Resolve(path string) (Match, error) {
	u, err := url.Parse(path)
	if err != nil {
		return Match{}, fmt.Errorf("invalid path %q: %w", path, err)
	}

	clean := u.Path
	if len(clean) > 1 {
		clean = strings.TrimSuffix(clean, "/")
	}

	var rm mux.RouteMatch
	if !r.mux.Match(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: clean}}, &rm) || rm.Route == nil {
		return Match{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}

	return Match{
		Route:  r.routes[rm.Route.GetName()],
		Path:   clean,
		Params: rm.Vars,
	}, nil
}

// Push navigates to path and records it in the history.
func (r *Router) Push(ctx context.Context, path string) (Match, error) {
	return r.navigate(ctx, path, false)
}

// Replace navigates to path replacing the current history entry.
func (r *Router) Replace(ctx context.Context, path string) error {
	_, err := r.navigate(ctx, path, true)
	return err
}

// Current returns the path of the current location, "" before the first
// navigation.
func (r *Router) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Path
}

// CurrentMatch returns the current location.
func (r *Router) CurrentMatch() Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// History returns the visited paths, oldest first.
func (r *Router) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}

// SetTitle sets the document title.
func (r *Router) SetTitle(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = title
}

// Title returns the document title.
func (r *Router) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}

func (r *Router) navigate(ctx context.Context, path string, replace bool) (Match, error) {
	r.mu.Lock()
	guard := r.guard
	from := r.current.Path
	r.mu.Unlock()

	target := path
	for redirects := 0; ; {
		if err := ctx.Err(); err != nil {
			return Match{}, err
		}

		if target == "/" {
			target = r.opts.RootRedirect
			continue
		}

		match, err := r.Resolve(target)
		if err != nil {
			return Match{}, err
		}

		decision := authz.Decision{Allow: true}
		if guard != nil {
			decision = guard(match.Route, from)
		}

		if decision.Allow {
			r.commit(match, replace)
			return match, nil
		}

		if decision.Redirect == "" {
			return Match{}, fmt.Errorf("%w: %s (%s)", ErrNavigationDenied, match.Path, decision.Reason)
		}

		redirects++
		if redirects > r.opts.MaxRedirects {
			return Match{}, fmt.Errorf("%w: navigating to %s", ErrTooManyRedirects, path)
		}

		log.Debug().
			Str("from", target).
			Str("to", decision.Redirect).
			Str("reason", string(decision.Reason)).
			Msg("navigation redirected")

		target = decision.Redirect
	}
}

func (r *Router) commit(match Match, replace bool) {
	r.mu.Lock()
	r.current = match
	if replace && len(r.history) > 0 {
		r.history[len(r.history)-1] = match.Path
	} else {
		r.history = append(r.history, match.Path)
	}
	hooks := append([]HookFunc(nil), r.after...)
	r.mu.Unlock()

	for _, hook := range hooks {
		hook(match)
	}
}

// muxTemplate converts ":param" segments to mux "{param}" variables.
func muxTemplate(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if name, ok := strings.CutPrefix(seg, ":"); ok {
			segments[i] = "{" + name + "}"
		}
	}
	return strings.Join(segments, "/")
}
