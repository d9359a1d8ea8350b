package pharmadesk

import (
	"context"

	"github.com/putto11262002/pharmadesk/core"
)

type publisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

// feedForwarder copies staff feed notifications to an external queue.
type feedForwarder struct {
	publisher publisher
}

func (f feedForwarder) NotifyFeed(ctx context.Context, e *core.GroupEvent) error {
	return f.publisher.Publish(ctx, e.Type, e)
}
