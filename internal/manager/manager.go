// Package manager phase-locks the video capture loop with the RFB server
// loop so a resize never races an in-flight frame encode, and owns the
// daemon's top-level lifecycle: gadget provisioning, config hot-reload,
// the metrics endpoint, the D-Bus screenshot RPC, and systemd readiness
// notification.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openbmc/ikvmd/internal/api"
	"github.com/openbmc/ikvmd/internal/config"
	"github.com/openbmc/ikvmd/internal/devices"
	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/hidgadget"
	"github.com/openbmc/ikvmd/internal/input"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/internal/metrics"
	"github.com/openbmc/ikvmd/internal/server"
	"github.com/openbmc/ikvmd/internal/supervisor"
	"github.com/openbmc/ikvmd/internal/video"
	"github.com/pelletier/go-toml/v2"
)

// defaultScreenWidth/Height seed the RFB screen and HID wakeup packets
// before the capture device has reported real DV timings, matching the
// original daemon's compiled-in defaults.
const (
	defaultScreenWidth  = 800
	defaultScreenHeight = 600
)

// Options collects every daemon parameter the manager needs to construct
// and wire the gadget, video, server, config watcher, and metrics
// components. It is populated by internal/config.LoadConfig from CLI
// flags, environment variables, and an optional TOML file.
type Options struct {
	FrameRate   int
	Subsampling int
	Pixelformat int
	CalcCRC     bool

	KeyboardPath string
	MousePath    string
	UDCName      string
	GadgetDir    string
	HubPortsDir  string

	VideoDevice string

	Port         int
	PasswordFile string

	ConfigPath string

	MetricsEnabled bool
	MetricsAddr    string

	APIEnabled bool
	APIAddr    string
}

// HotReloadable is the subset of Options safe to apply without a
// restart: log level and the per-client CRC dedup flag.
type HotReloadable struct {
	LogLevel string
	CalcCRC  bool
}

// Manager owns the server and status/capture goroutines and the
// condition-variable rendezvous between them.
type Manager struct {
	opts    Options
	bus     *events.Bus
	metrics *metrics.Metrics
	sup     *supervisor.Supervisor
	log     *slog.Logger

	devicePath string

	in      *input.Input
	vid     *video.Video
	srv     *server.Server
	dbus    *screenshotService
	watcher *config.Watcher[HotReloadable]

	mu         sync.Mutex
	cond       *sync.Cond
	serverDone bool
	videoDone  bool
	stopped    bool

	logSeq atomic.Uint64
}

// New constructs a Manager. Run performs the actual device/gadget/server
// construction so that startup errors surface from Run, not from New.
func New(opts Options, bus *events.Bus, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		opts:    opts,
		bus:     bus,
		metrics: m,
		sup:     supervisor.New(),
		log:     logging.GetLogger("manager"),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	return mgr
}

// Run provisions the HID gadget, opens the video device, starts the RFB
// server, and blocks running the rendezvous loop until ctx is canceled.
// It always tears down what it provisioned before returning.
func (mgr *Manager) Run(ctx context.Context) error {
	if mgr.bus != nil {
		logging.SetLogCallback(mgr.publishLogEntry)
	}

	devicePath, err := devices.ValidateCaptureDevice(mgr.opts.VideoDevice)
	if err != nil {
		return fmt.Errorf("validate video device: %w", err)
	}
	mgr.devicePath = devicePath

	if err := hidgadget.Create(mgr.log, mgr.opts.GadgetDir); err != nil {
		return fmt.Errorf("provision HID gadget: %w", err)
	}
	defer func() {
		if err := hidgadget.Destroy(mgr.log, mgr.opts.GadgetDir); err != nil {
			mgr.log.Warn("gadget teardown failed", "error", err)
		}
	}()

	mgr.in = input.New(input.Options{
		KeyboardPath: mgr.opts.KeyboardPath,
		MousePath:    mgr.opts.MousePath,
		UDCName:      mgr.opts.UDCName,
		GadgetDir:    mgr.opts.GadgetDir,
		HubPortsDir:  mgr.opts.HubPortsDir,
	}, mgr.bus)
	if mgr.metrics != nil {
		mgr.in.SetRetryHook(mgr.metrics.IncHIDWriteRetries)
	}

	vid, err := video.Open(devicePath, video.Options{
		Pixelformat: mgr.opts.Pixelformat,
		Subsampling: mgr.opts.Subsampling,
	}, mgr.in, mgr.bus, defaultScreenWidth, defaultScreenHeight)
	if err != nil {
		return fmt.Errorf("open video device: %w", err)
	}
	mgr.vid = vid
	defer vid.Close()

	srv, err := server.New(server.Options{
		Port:         mgr.opts.Port,
		PasswordFile: mgr.opts.PasswordFile,
		FrameRate:    mgr.opts.FrameRate,
		CalcCRC:      mgr.opts.CalcCRC,
	}, vid, mgr.in, mgr.bus)
	if err != nil {
		return fmt.Errorf("start RFB server: %w", err)
	}
	mgr.srv = srv
	defer srv.Close()

	mgr.dbus = newScreenshotService(mgr.bus, mgr.log)
	if err := mgr.dbus.start(); err != nil {
		mgr.log.Warn("D-Bus screenshot RPC unavailable", "error", err)
	}
	defer mgr.dbus.stop()

	mgr.watcher = config.NewConfigWatcher(mgr.opts.ConfigPath, loadHotReloadable, mgr.log)
	mgr.watcher.OnReload(mgr.applyHotReload)
	if mgr.opts.ConfigPath != "" {
		if err := mgr.watcher.Start(); err != nil {
			mgr.log.Warn("config watcher unavailable", "error", err)
		} else {
			defer mgr.watcher.Stop()
		}
	}

	var wg sync.WaitGroup
	if mgr.opts.MetricsEnabled && mgr.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mgr.metrics.Serve(ctx, mgr.opts.MetricsAddr); err != nil {
				mgr.log.Error("metrics server error", "error", err)
			}
		}()
	}

	if mgr.opts.APIEnabled {
		apiSrv := api.New(mgr.bus, mgr.srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiSrv.Serve(ctx, mgr.opts.APIAddr); err != nil {
				mgr.log.Error("api server error", "error", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.serverLoop(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.watchdogAndCancelPropagation(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.vid.WatchSignal(ctx)
	}()

	mgr.sup.Ready()
	mgr.sup.Status("running")

	mgr.statusLoop(ctx)

	mgr.sup.Stopping()
	mgr.in.Disconnect()
	wg.Wait()
	return nil
}

// watchdogAndCancelPropagation runs the systemd watchdog pinger and wakes
// every rendezvous waiter once ctx is canceled, so blocked goroutines
// don't outlive shutdown.
func (mgr *Manager) watchdogAndCancelPropagation(ctx context.Context) {
	go mgr.sup.RunWatchdog(ctx)

	<-ctx.Done()
	mgr.mu.Lock()
	mgr.stopped = true
	mgr.cond.Broadcast()
	mgr.mu.Unlock()
}

// serverLoop runs Server.Run in a tight loop, phase-locking with
// statusLoop via the serverDone/videoDone rendezvous.
func (mgr *Manager) serverLoop(ctx context.Context) {
	for {
		mgr.mu.Lock()
		if mgr.stopped {
			mgr.mu.Unlock()
			return
		}
		mgr.mu.Unlock()

		mgr.srv.Run()

		mgr.mu.Lock()
		mgr.serverDone = true
		mgr.cond.Broadcast()
		for !mgr.videoDone && !mgr.stopped {
			mgr.cond.Wait()
		}
		mgr.videoDone = false
		stopped := mgr.stopped
		mgr.mu.Unlock()

		if stopped {
			return
		}
	}
}

// statusLoop is the producer side of the rendezvous: it drives capture,
// forwards frames, services the screenshot flag, and detects resolution
// changes.
func (mgr *Manager) statusLoop(ctx context.Context) {
	for {
		mgr.mu.Lock()
		if mgr.stopped {
			mgr.mu.Unlock()
			return
		}
		mgr.mu.Unlock()

		screenshotPath, screenshotWanted := mgr.dbus.pendingScreenshot()

		if mgr.srv.WantsFrame() || screenshotWanted {
			if err := mgr.vid.Start(); err != nil {
				mgr.log.Error("start capture failed", "error", err)
			}
			mgr.vid.GetFrame()

			if mgr.srv.WantsFrame() {
				result := mgr.srv.SendFrame()
				if mgr.metrics != nil {
					mgr.metrics.AddFramesSent(result.Sent)
					mgr.metrics.AddFramesDeduped(result.Deduped)
					mgr.metrics.SetClientsConnected(mgr.srv.ClientCount())
				}
			}

			if screenshotWanted {
				err := mgr.vid.WriteFile(screenshotPath)
				mgr.dbus.completeScreenshot(screenshotPath, err)
			}
		} else {
			if err := mgr.vid.Stop(); err != nil {
				mgr.log.Warn("stop capture failed", "error", err)
			}
		}

		needsResize, err := mgr.vid.NeedsResize()
		if err != nil {
			mgr.log.Error("signal lost", "error", err)
			needsResize = false
		}

		mgr.mu.Lock()
		if needsResize {
			mgr.videoDone = false
			for !mgr.serverDone && !mgr.stopped {
				mgr.cond.Wait()
			}
			mgr.serverDone = false
			stopped := mgr.stopped
			mgr.mu.Unlock()
			if stopped {
				return
			}

			if err := mgr.vid.Resize(); err != nil {
				mgr.log.Error("video resize failed", "error", err)
			}
			mgr.srv.Resize()

			mgr.mu.Lock()
			mgr.videoDone = true
			mgr.cond.Broadcast()
			mgr.mu.Unlock()
			continue
		}

		mgr.videoDone = true
		mgr.cond.Broadcast()
		for !mgr.serverDone && !mgr.stopped {
			mgr.cond.Wait()
		}
		mgr.serverDone = false
		stopped := mgr.stopped
		mgr.mu.Unlock()

		if stopped {
			return
		}
	}
}

// hotReloadFile is the on-disk shape of the two settings that apply
// without a restart.
type hotReloadFile struct {
	CalcCRC bool `toml:"calc_crc"`
	Logging struct {
		Level string `toml:"level"`
	} `toml:"logging"`
}

// loadHotReloadable reads the hot-reloadable subset of the TOML config
// file.
func loadHotReloadable(path string) (HotReloadable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HotReloadable{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw hotReloadFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return HotReloadable{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return HotReloadable{LogLevel: raw.Logging.Level, CalcCRC: raw.CalcCRC}, nil
}

// publishLogEntry mirrors a slog record onto the event bus, installed as
// logging's global callback so any module's log calls reach /events
// without importing internal/api or internal/events themselves.
func (mgr *Manager) publishLogEntry(entry logging.LogEntry) {
	mgr.bus.Publish(events.LogEntryEvent{
		Seq:        mgr.logSeq.Add(1),
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	})
}

func (mgr *Manager) applyHotReload(h HotReloadable) {
	mgr.log.Info("applying hot-reloaded config", "log_level", h.LogLevel, "calc_crc", h.CalcCRC)
	logging.Initialize(logging.Config{Level: h.LogLevel, Format: "text"})
	if mgr.srv != nil {
		mgr.srv.SetCalcCRC(h.CalcCRC)
	}
}
