// Command example runs the capture service on simulated devices.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"deckcap"
	"deckcap/broker"
	"deckcap/broker/kafka"
	"deckcap/broker/rabbit"
	bredis "deckcap/broker/redis"
	"deckcap/capture"
	"deckcap/clock"
	"deckcap/control"
	"deckcap/device"
	"deckcap/device/sim"
	"deckcap/log"
	"deckcap/monitor"
	"deckcap/network"
	"deckcap/network/ws"
	plmxs "deckcap/prometheus"
	"deckcap/registry"
	"deckcap/registry/memory"
	rredis "deckcap/registry/redis"
	"deckcap/registry/zookeeper"
	"deckcap/rpc"
	rpcgrpc "deckcap/rpc/grpc"
	"deckcap/util/profile"

	"go.uber.org/zap"
)

type optionFlags []string

func (o *optionFlags) String() string {
	return strings.Join(*o, ",")
}

func (o *optionFlags) Set(v string) error {
	*o = append(*o, v)

	return nil
}

var (
	devices   = flag.Int("devices", 1, "simulated devices")
	mode      = flag.String("mode", "1080p2398", "signal mode of the simulated devices")
	format    = flag.String("format", "8bit-yuv", "pixel format of the simulated signal")
	audio     = flag.Bool("audio", true, "capture audio next to video")
	host      = flag.String("host", "", "host named in device leases")
	wsAddr    = flag.String("ws", "127.0.0.1:8090", "monitor websocket address, empty to disable")
	grpcAddr  = flag.String("grpc", "127.0.0.1:8091", "control address, empty to disable")
	metrics   = flag.String("metrics", plmxs.DefaultAddr, "metrics address, empty to disable")
	pprofAddr = flag.String("pprof", "", "pprof address, empty to disable")
	redisAddr = flag.String("redis", "", "redis for leases and events")
	zkAddr    = flag.String("zk", "", "zookeeper servers for leases, comma separated")
	kafkaAddr = flag.String("kafka", "", "kafka brokers for events, comma separated")
	amqpAddr  = flag.String("amqp", "", "rabbitmq url for events")
	slave     = flag.Bool("slave", false, "slave the other device clocks to the first device")
	opts      optionFlags
)

func sessionOptions(name string, dev int, sel *clock.Selector, m *plmxs.Monitor) ([]capture.Option, error) {
	res := []capture.Option{
		capture.OptionWithName(name),
		capture.OptionWithDeviceNumber(dev),
		capture.OptionWithSelector(sel),
	}

	if m != nil {
		res = append(res, capture.OptionWithWaitObserver(m.WaitObserver(name)))
	}

	for _, v := range opts {
		kv := strings.SplitN(v, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("option %q is not key=value", v)
		}

		o, err := capture.ParseOption(kv[0], kv[1])
		if err != nil {
			return nil, err
		}

		res = append(res, o)
	}

	return res, nil
}

func leaseRegistry() (registry.Registry, error) {
	switch {
	case *redisAddr != "":
		return rredis.NewRegistry(registry.OptionWithAddr(*redisAddr)), nil
	case *zkAddr != "":
		if reg := zookeeper.NewRegistry(registry.OptionWithAddr(*zkAddr)); reg != nil {
			return reg, nil
		}

		return nil, fmt.Errorf("failed to connect zookeeper %s", *zkAddr)
	}

	return memory.NewRegistry(), nil
}

func brokers() []broker.Broker {
	var res []broker.Broker

	if *redisAddr != "" {
		res = append(res, bredis.NewBroker(broker.OptionWithName("redis"), broker.OptionWithAddr(*redisAddr)))
	}

	if *kafkaAddr != "" {
		res = append(res, kafka.NewBroker(broker.OptionWithName("kafka"), broker.OptionWithAddr(*kafkaAddr)))
	}

	if *amqpAddr != "" {
		res = append(res, rabbit.NewBroker(broker.OptionWithName("rabbit"), broker.OptionWithAddr(*amqpAddr)))
	}

	return res
}

// consume plays the downstream element: it pulls and releases buffers.
func consume(ctx context.Context, wg *sync.WaitGroup, name string, create func() (func(), error)) {
	defer wg.Done()

	for ctx.Err() == nil {
		release, err := create()

		switch {
		case err == nil:
			release()
		case errors.Is(err, capture.ErrFlushing):
			time.Sleep(10 * time.Millisecond)
		default:
			log.Error("create", zap.String("session", name), zap.Error(err))

			return
		}
	}
}

func run() error {
	flag.Var(&opts, "opt", "capture option key=value, repeatable")
	flag.Parse()

	log.Init("deckcap")
	defer log.Sync()

	modeID, err := device.ParseMode(*mode)
	if err != nil {
		return err
	}

	pf, err := device.ParsePixelFormat(*format)
	if err != nil {
		return err
	}

	drv := sim.NewDriver(*devices, sim.OptionWithSignal(modeID, pf))
	creg := capture.NewRegistry(drv)

	app := deckcap.NewApp(deckcap.OptionWithHost(*host), deckcap.OptionWithSlaveClocks(*slave))
	reg, err := leaseRegistry()
	if err != nil {
		return err
	}

	app.AddRegistry(reg)

	if err := app.AddBroker(brokers()...); err != nil {
		return err
	}

	var m *plmxs.Monitor
	if *metrics != "" {
		if m, err = plmxs.NewMonitor("deckcap", plmxs.OptionWithAddr(*metrics)); err != nil {
			return err
		}

		app.SetMonitor(m)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	for i := 0; i < *devices; i++ {
		vo, err := sessionOptions(fmt.Sprintf("video-%d", i), i, app.Selector(), m)
		if err != nil {
			return err
		}

		vs, err := capture.NewVideoSession(creg, vo...)
		if err != nil {
			return err
		}

		if err := app.AddSession(vs); err != nil {
			return err
		}

		wg.Add(1)

		go consume(ctx, &wg, vs.Options().Name, func() (func(), error) {
			f, err := vs.Create()
			if err != nil {
				return nil, err
			}

			return f.Release, nil
		})

		if !*audio {
			continue
		}

		ao, err := sessionOptions(fmt.Sprintf("audio-%d", i), i, app.Selector(), m)
		if err != nil {
			return err
		}

		as, err := capture.NewAudioSession(creg, ao...)
		if err != nil {
			return err
		}

		if err := app.AddSession(as); err != nil {
			return err
		}

		wg.Add(1)

		go consume(ctx, &wg, as.Options().Name, func() (func(), error) {
			b, err := as.Create()
			if err != nil {
				return nil, err
			}

			return b.Release, nil
		})
	}

	if *wsAddr != "" {
		mon := monitor.New(app.Stats)
		app.SetEventMonitor(mon)

		if err := app.AddServer(ws.NewServer(
			network.ServerOptionWithName("monitor"),
			network.ServerOptionWithAddr(*wsAddr),
			network.ServerOptionWithCodec(monitor.NewCodec()),
			network.ServerOptionWithHandler(mon.Router()))); err != nil {
			return err
		}
	}

	if *grpcAddr != "" {
		svr, err := rpcgrpc.NewServer(
			rpc.ServerOptionWithName("control"),
			rpc.ServerOptionWithAddr(*grpcAddr),
			rpcgrpc.ServerOptionWithConfig(control.NewService(creg, app.Sessions)))
		if err != nil {
			return err
		}

		if err := app.AddRPCServer(svr); err != nil {
			return err
		}
	}

	if *pprofAddr != "" {
		p, err := profile.Start(*pprofAddr, "", 0)
		if err != nil {
			return err
		}
		defer p.Stop()
	}

	go func() {
		select {
		case <-app.Ready():
		case <-ctx.Done():
			return
		}

		for i := 0; i < *devices; i++ {
			dev, _ := drv.Device(i)

			go func(i int) {
				if err := dev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("device run", zap.Int("device", i), zap.Error(err))
				}
			}(i)
		}
	}()

	err = app.Run()
	cancel()
	wg.Wait()

	return err
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
