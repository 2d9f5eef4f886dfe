package ports

import "context"

// MessageQueue is the asynchronous event transport between the OCPP core and
// the surrounding platform components.
type MessageQueue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) error
	Close() error
}
