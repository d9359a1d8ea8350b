package core

import "github.com/putto11262002/pharmadesk/pkg/router"

// MountSockets registers the chat sockets on r. OptionalAuthMiddleware and
// VisitorSessionMiddleware must already be mounted.
func (s *Support) MountSockets(r *router.Router) {
	r.Router.Get("/ws/chat/user/", s.ServeVisitor)
	r.Router.Get("/ws/chat/agent/{roomID}/", s.ServeAgent)
	r.Router.Get("/ws/chat/agent-feed/", s.ServeFeed)
}
