package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/nerrad567/assistdrive-core/internal/device"
	"github.com/nerrad567/assistdrive-core/internal/fabric"
	"github.com/nerrad567/assistdrive-core/internal/identity"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/config"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/logging"
	"github.com/nerrad567/assistdrive-core/internal/infrastructure/metrics"
	"github.com/nerrad567/assistdrive-core/internal/service"
	"github.com/nerrad567/assistdrive-core/internal/sft"
)

// fabricDeps are the shared collaborators of every configured device.
type fabricDeps struct {
	tracer  *sft.Tracer
	runtime *service.Runtime
	claims  *identity.SQLiteClaimStore
	metrics *metrics.Collector
	logger  *logging.Logger
}

// deviceFabric is the device tree built from configuration.
type deviceFabric struct {
	devices  *device.Registry
	identity *identity.Registry
	roots    []device.Device
	server   *service.Server
	sweep    bool
	logger   *logging.Logger
}

// buildFabric creates every configured controller, device and the
// optional fabric server, marks each device with its systems and
// registers serial arbitrators. Nothing connects until start.
func buildFabric(ctx context.Context, cfg *config.Config, deps fabricDeps) (*deviceFabric, error) {
	log := deps.logger
	fabricLog := log.Component("fabric")

	hints, err := deps.claims.Hints(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading identity claims: %w", err)
	}

	serialCfg := fabric.SerialConfig{
		BaudRate:    cfg.Fabric.Serial.BaudRate,
		ReadTimeout: cfg.Fabric.Serial.GetReadTimeout(),
	}
	regCfg := identity.RegistryConfig{
		Serial:  serialCfg,
		Options: fabric.Options{Delimiter: []byte(cfg.Fabric.Delimiter), Logger: fabricLog},
		OnClaim: func(tag, port string) {
			saveCtx, cancel := context.WithTimeout(context.Background(), claimTimeout)
			defer cancel()
			if err := deps.claims.Save(saveCtx, tag, port); err != nil {
				log.Warn("failed to persist identity claim", "device", tag, "port", port, "error", err)
			}
		},
		Logger: log.Component("identity"),
	}
	if ports := cfg.Fabric.Serial.Ports; len(ports) > 0 {
		regCfg.Lister = func() ([]string, error) {
			return append([]string(nil), ports...), nil
		}
	}

	fab := &deviceFabric{
		devices:  device.NewRegistry(),
		identity: identity.NewRegistry(regCfg),
		logger:   log,
	}
	fab.devices.SetLogger(log.Component("devices"))

	cb := sft.Callback(deps.tracer, service.Logging(nil, fabricLog))
	arbitrated := 0

	for _, cc := range cfg.Controllers {
		ctrl := device.NewController(cc.Tag, fab.devices)
		ctrl.SetLogger(log.Device(cc.Tag))
		if err := fab.devices.Register(ctrl); err != nil {
			return nil, err
		}
		fab.roots = append(fab.roots, ctrl)

		for _, dc := range cc.Devices {
			delim := cfg.Fabric.Delimiter
			if dc.Delimiter != "" {
				delim = dc.Delimiter
			}
			opts := fabric.Options{Delimiter: []byte(delim), Logger: fabricLog}

			var connector service.Connector
			switch {
			case dc.Transport == "tcp":
				connector = service.TCPConnector{Address: dc.Address, Options: opts}
			case dc.Port == identity.AutoPort:
				a, err := fab.identity.Register(dc.Tag,
					identity.TagProbe{Tag: dc.Tag, Timeout: cfg.Fabric.Serial.GetProbeTimeout()},
					identity.ArbitratorConfig{Port: hints[dc.Tag], Retry: dc.Retry},
				)
				if err != nil {
					return nil, fmt.Errorf("registering arbitrator: %w", err)
				}
				connector = a
				arbitrated++
			default:
				connector = service.SerialConnector{Path: dc.Port, Serial: serialCfg, Options: opts}
			}

			entity := service.NewEntity(service.EntityConfig{
				ClientConfig: service.ClientConfig{
					Tag:       dc.Tag,
					Connector: connector,
					Callback:  cb,
					Runtime:   deps.runtime,
					Logger:    log.Device(dc.Tag),
					Metrics:   deps.metrics,
				},
				Sink:   device.NewSensor(dc.Tag),
				Faults: deps.tracer,
			})

			if len(dc.Systems) > 0 {
				if err := deps.tracer.MarkDevice(dc.Tag, dc.Systems[0], dc.Systems[1:]...); err != nil {
					return nil, fmt.Errorf("marking %s: %w", dc.Tag, err)
				}
			}
			if err := ctrl.Add(entity); err != nil {
				return nil, fmt.Errorf("adding %s to %s: %w", dc.Tag, cc.Tag, err)
			}
		}
	}

	if sc := cfg.Fabric.Server; sc.Enabled {
		srv := service.NewServer(service.ServerConfig{
			Tag:      sc.Tag,
			Address:  net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port)),
			MaxPeers: sc.MaxPeers,
			Callback: cb,
			Runtime:  deps.runtime,
			Options:  fabric.Options{Delimiter: []byte(cfg.Fabric.Delimiter), Logger: fabricLog},
			Logger:   log.Device(sc.Tag),
			Metrics:  deps.metrics,
		})
		if err := fab.devices.Register(srv); err != nil {
			return nil, err
		}
		// The server comes first so local clients can reach it.
		fab.roots = append([]device.Device{srv}, fab.roots...)
		fab.server = srv
	}

	fab.sweep = cfg.Fabric.Serial.SweepOnStart && arbitrated > 0
	return fab, nil
}

// start runs the optional discovery sweep, then initializes every root
// device. A device that fails to start is reported through the fault
// tracer by its own callback; only structural errors are returned.
func (f *deviceFabric) start(ctx context.Context) error {
	if f.sweep {
		if err := f.identity.Sweep(ctx); err != nil {
			// Arbitrators fall back to per-connection resolution.
			f.logger.Warn("serial discovery sweep failed", "error", err)
		}
	}

	var errs []error
	for _, root := range f.roots {
		if err := root.Initialize(nil); err != nil {
			if errors.Is(err, device.ErrAlreadyInitialized) {
				errs = append(errs, err)
				continue
			}
			f.logger.Warn("device failed to start", "device", root.Tag(), "error", err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every root device in reverse start order.
func (f *deviceFabric) Close() error {
	var errs []error
	for i := len(f.roots) - 1; i >= 0; i-- {
		if err := f.roots[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", f.roots[i].Tag(), err))
		}
	}
	return errors.Join(errs...)
}
