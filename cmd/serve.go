package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/openbmc/ikvmd/internal/config"
	"github.com/openbmc/ikvmd/internal/events"
	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/openbmc/ikvmd/internal/manager"
	"github.com/openbmc/ikvmd/internal/metrics"
	"github.com/spf13/cobra"
)

// registerServeFlags binds the daemon's flags directly onto root, so
// running the binary with no subcommand serves, matching the teacher's
// single-purpose CLI shape.
func registerServeFlags(cmd *cobra.Command, opts *Options) {
	flags := cmd.Flags()

	flags.StringVar(&opts.Config, "config", opts.Config, "path to TOML config file")
	flags.IntVarP(&opts.FrameRate, "frame-rate", "f", opts.FrameRate, "target frame rate, 1-60")
	flags.IntVarP(&opts.Subsampling, "subsampling", "s", opts.Subsampling, "JPEG chroma subsampling mode (0 or 1)")
	flags.IntVarP(&opts.Pixelformat, "pixelformat", "m", opts.Pixelformat, "capture pixel format mode (0 or 1)")
	flags.BoolVarP(&opts.CalcCrc, "calc-crc", "c", opts.CalcCrc, "skip sending frames identical to the client's last frame")
	flags.StringVarP(&opts.VideoDevice, "video-device", "v", opts.VideoDevice, "V4L2 capture device path")

	flags.StringVarP(&opts.Keyboard, "keyboard", "k", opts.Keyboard, "HID keyboard gadget device path")
	flags.StringVarP(&opts.Mouse, "mouse", "p", opts.Mouse, "HID mouse gadget device path")
	flags.StringVarP(&opts.UdcName, "udc-name", "u", opts.UdcName, "USB device controller to bind the gadget to")
	flags.StringVar(&opts.GadgetDir, "gadget-dir", opts.GadgetDir, "configfs gadget directory")
	flags.StringVar(&opts.HubPortsDir, "hub-ports-dir", opts.HubPortsDir, "virtual USB hub sysfs directory")

	flags.IntVar(&opts.Port, "port", opts.Port, "RFB TCP listen port")
	flags.StringVar(&opts.PasswordFile, "password-file", opts.PasswordFile, "VNC password file, empty disables auth")

	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "log format: text or json")

	flags.BoolVar(&opts.MetricsEnabled, "metrics-enabled", opts.MetricsEnabled, "serve Prometheus metrics")
	flags.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "metrics HTTP listen address")

	flags.BoolVar(&opts.ApiEnabled, "api-enabled", opts.ApiEnabled, "serve the /events, /status and /logs HTTP endpoints")
	flags.StringVar(&opts.ApiAddr, "api-addr", opts.ApiAddr, "API HTTP listen address")
}

func runServe(cmd *cobra.Command, opts *Options) error {
	if err := config.LoadConfig(opts, cmd); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts.FrameRate = clampFrameRate(opts.FrameRate)
	initLogging(opts)

	log := logging.GetLogger("cmd")
	log.Info("starting ikvmd", "video_device", opts.VideoDevice, "port", opts.Port, "frame_rate", opts.FrameRate)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.New()
	m := metrics.New(bus)

	mgr := manager.New(toManagerOptions(opts), bus, m)
	if err := mgr.Run(ctx); err != nil {
		return fmt.Errorf("manager exited: %w", err)
	}
	return nil
}

func toManagerOptions(opts *Options) manager.Options {
	return manager.Options{
		FrameRate:   opts.FrameRate,
		Subsampling: opts.Subsampling,
		Pixelformat: opts.Pixelformat,
		CalcCRC:     opts.CalcCrc,

		KeyboardPath: opts.Keyboard,
		MousePath:    opts.Mouse,
		UDCName:      opts.UdcName,
		GadgetDir:    opts.GadgetDir,
		HubPortsDir:  opts.HubPortsDir,

		VideoDevice: opts.VideoDevice,

		Port:         opts.Port,
		PasswordFile: opts.PasswordFile,

		ConfigPath: opts.Config,

		MetricsEnabled: opts.MetricsEnabled,
		MetricsAddr:    opts.MetricsAddr,

		APIEnabled: opts.ApiEnabled,
		APIAddr:    opts.ApiAddr,
	}
}
