package stream

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the change stream.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.Handle("/v1/speakers/stream", hub)
}
