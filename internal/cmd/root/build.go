package root

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"obdrelay/internal/engine"
	"obdrelay/internal/location"
	"obdrelay/internal/obd"
	"obdrelay/internal/obd/ble"
	"obdrelay/internal/obd/mock"
	"obdrelay/internal/obd/serial"
	"obdrelay/internal/obd/wifi"
	"obdrelay/internal/presenter"
	"obdrelay/internal/uploader"
	"obdrelay/pkg/log"
)

// Transports returns one factory per configured adapter kind, in order.
// With --mock the simulated adapter replaces them all.
func Transports() []engine.Factory {
	if viper.GetBool("mock") {
		return []engine.Factory{func() obd.Transport { return mock.New(obd.KindWiFi) }}
	}

	var out []engine.Factory
	for _, kind := range viper.GetStringSlice("adapter.order") {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "wifi":
			out = append(out, func() obd.Transport {
				return wifi.New(wifi.Config{
					Host:        viper.GetString("adapter.wifi.host"),
					Port:        viper.GetInt("adapter.wifi.port"),
					Timeout:     viper.GetDuration("adapter.wifi.timeout"),
					DialTimeout: viper.GetDuration("adapter.wifi.dial-timeout"),
				})
			})
		case "ble", "bluetooth":
			out = append(out, func() obd.Transport {
				return ble.New(ble.Config{
					Keywords:      viper.GetStringSlice("adapter.ble.keywords"),
					RSSIThreshold: int16(viper.GetInt("adapter.ble.rssi-threshold")),
					ScanTimeout:   viper.GetDuration("adapter.ble.scan-timeout"),
				})
			})
		case "serial", "rfcomm":
			out = append(out, func() obd.Transport {
				return serial.New(serial.Config{
					Port: viper.GetString("adapter.serial.port"),
					Baud: viper.GetInt("adapter.serial.baud"),
				})
			})
		default:
			log.Warn("unknown adapter kind, ignoring", zap.String("kind", kind))
		}
	}
	return out
}

// EngineConfig reads polling settings into an engine configuration.
func EngineConfig(p presenter.Presenter, uploads engine.Sink) engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Transports = Transports()
	cfg.Interval = viper.GetDuration("poll.interval")
	cfg.Retries = viper.GetInt("poll.retries")
	cfg.Presenter = p
	cfg.Uploads = uploads
	return cfg
}

// Uploader builds the collector uploader.
func Uploader(p presenter.Presenter, loc location.Provider) *uploader.Uploader {
	return uploader.New(uploader.Config{
		Host:       viper.GetString("collector.host"),
		Port:       viper.GetInt("collector.port"),
		DeviceName: viper.GetString("device.name"),
		Attempts:   viper.GetInt("upload.attempts"),
		RetryDelay: viper.GetDuration("upload.retry-delay"),
		Timeout:    viper.GetDuration("upload.timeout"),
		Queue:      viper.GetInt("upload.queue"),
		Location:   loc,
		Presenter:  p,
	})
}

// Location starts the configured position source. A GPS receiver wins over
// a static position; with neither, uploads carry zero coordinates.
func Location(ctx context.Context) location.Provider {
	if port := viper.GetString("gps.port"); port != "" {
		gps := location.NewNMEA(location.NMEAConfig{Port: port, Baud: viper.GetInt("gps.baud")})
		go func() {
			if err := gps.Run(ctx); err != nil {
				log.Error("gps stopped", zap.Error(err))
			}
		}()
		return gps
	}
	if viper.IsSet("gps.lat") && viper.IsSet("gps.lon") {
		return location.NewStatic(viper.GetFloat64("gps.lat"), viper.GetFloat64("gps.lon"))
	}
	return location.None{}
}

// Mirrors attaches the MQTT and WebSocket presenters that are configured.
// The returned function shuts them down.
func Mirrors(ctx context.Context, fan *presenter.Fanout) func() {
	var closers []func()

	if broker := viper.GetString("mqtt.broker"); broker != "" {
		pub, err := presenter.NewPahoPublisher(broker, "obdrelay-"+viper.GetString("device.name"))
		if err != nil {
			log.Error("mqtt mirror disabled", zap.String("broker", broker), zap.Error(err))
		} else {
			m := presenter.NewMQTT(pub, viper.GetString("mqtt.topic"), log.Named("mqtt"))
			fan.Add(m)
			closers = append(closers, func() { m.Close() })
			log.Info("mqtt mirror enabled", zap.String("broker", broker))
		}
	}

	if addr := viper.GetString("http.listen"); addr != "" {
		hub := presenter.NewHub(log.Named("feed"))
		fan.Add(hub)
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Info("live feed listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("live feed stopped", zap.Error(err))
			}
		}()
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		})
	}

	return func() {
		for _, c := range closers {
			c()
		}
	}
}

// Supervise keeps the engine connected until ctx is done, retrying after
// delay whenever the connection fails or drops.
func Supervise(ctx context.Context, eng *engine.Engine, delay time.Duration) {
	if delay <= 0 {
		delay = 30 * time.Second
	}
	for {
		if err := eng.Connect(ctx); err != nil && !errors.Is(err, engine.ErrAlreadyConnected) {
			log.Warn("adapter connect failed", zap.Error(err), zap.Duration("retry_in", delay))
		} else {
			waitDisconnected(ctx, eng)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func waitDisconnected(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for eng.State().Connected() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
