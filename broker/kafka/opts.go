package kafka

import (
	"context"

	"deckcap/broker"
)

type groupIDKey struct{}

// OptionWithGroupID sets the consumer group used by Subscribe.
func OptionWithGroupID(id string) broker.Option {
	return func(o *broker.Options) {
		if o.Context == nil {
			o.Context = context.Background()
		}

		o.Context = context.WithValue(o.Context, groupIDKey{}, id)
	}
}
