package rabbit

import (
	"context"

	"deckcap/broker"
)

type exchangeConfigKey struct{}

type exchangeConfig struct {
	Name  string
	Kind  string
	Queue string
}

// OptionWithExchange sets the exchange events are published to. An empty
// queue makes Subscribe use a server-named exclusive queue.
func OptionWithExchange(name, kind, queue string) broker.Option {
	return func(o *broker.Options) {
		if o.Context == nil {
			o.Context = context.Background()
		}

		o.Context = context.WithValue(o.Context, exchangeConfigKey{}, &exchangeConfig{
			Name:  name,
			Kind:  kind,
			Queue: queue,
		})
	}
}
