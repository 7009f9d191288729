// Package cmd wires the daemon's command-line surface: a root command that
// runs the KVM daemon directly (mirroring the original single-binary
// invocation), plus version and update subcommands.
package cmd

import (
	"fmt"
	"os"

	"github.com/openbmc/ikvmd/internal/logging"
	"github.com/spf13/cobra"
)

// Options is the flat CLI/config surface, merged by internal/config.LoadConfig
// from flags, IKVMD_-prefixed environment variables, and an optional TOML
// file, in that precedence order.
type Options struct {
	Config string `toml:"" env:""`

	FrameRate   int  `toml:"video.frame_rate" env:"FRAME_RATE"`
	Subsampling int  `toml:"video.subsampling" env:"SUBSAMPLING"`
	Pixelformat int  `toml:"video.pixelformat" env:"PIXELFORMAT"`
	CalcCrc     bool `toml:"video.calc_crc" env:"CALC_CRC"`
	VideoDevice string `toml:"video.device" env:"VIDEO_DEVICE"`

	Keyboard    string `toml:"input.keyboard" env:"KEYBOARD"`
	Mouse       string `toml:"input.mouse" env:"MOUSE"`
	UdcName     string `toml:"input.udc_name" env:"UDC_NAME"`
	GadgetDir   string `toml:"input.gadget_dir" env:"GADGET_DIR"`
	HubPortsDir string `toml:"input.hub_ports_dir" env:"HUB_PORTS_DIR"`

	Port         int    `toml:"server.port" env:"PORT"`
	PasswordFile string `toml:"server.password_file" env:"PASSWORD_FILE"`

	LogLevel  string `toml:"logging.level" env:"LOG_LEVEL"`
	LogFormat string `toml:"logging.format" env:"LOG_FORMAT"`

	MetricsEnabled bool   `toml:"metrics.enabled" env:"METRICS_ENABLED"`
	MetricsAddr    string `toml:"metrics.addr" env:"METRICS_ADDR"`

	ApiEnabled bool   `toml:"api.enabled" env:"API_ENABLED"`
	ApiAddr    string `toml:"api.addr" env:"API_ADDR"`

	Repository string `toml:"update.repository" env:"UPDATE_REPOSITORY"`
	Prerelease bool   `toml:"update.prerelease" env:"UPDATE_PRERELEASE"`
}

func defaultOptions() *Options {
	return &Options{
		Config:         "ikvmd.toml",
		FrameRate:      30,
		Subsampling:    0,
		Pixelformat:    0,
		CalcCrc:        false,
		VideoDevice:    "/dev/video0",
		Keyboard:       "/dev/hidg0",
		Mouse:          "/dev/hidg1",
		GadgetDir:      "/sys/kernel/config/usb_gadget/ikvmd",
		HubPortsDir:    "/sys/bus/platform/devices/1e6a0000.usb-vhub",
		Port:           5900,
		LogLevel:       "info",
		LogFormat:      "text",
		MetricsAddr:    ":9090",
		ApiAddr:        ":8080",
		Repository:     "openbmc/ikvmd",
	}
}

// NewRootCmd builds the top-level command tree. The root command itself
// runs the daemon, matching the original binary's habit of having no
// subcommand mean "serve".
func NewRootCmd() *cobra.Command {
	opts := defaultOptions()

	root := &cobra.Command{
		Use:           "ikvmd",
		Short:         "Headless KVM-over-IP daemon",
		Long:          "ikvmd serves a VNC-compatible remote console backed by V4L2 video capture and a USB HID gadget.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	registerServeFlags(root, opts)
	root.AddCommand(newVersionCmd())
	root.AddCommand(newUpdateCmd(opts))

	return root
}

// Execute runs the command tree and returns a process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ikvmd:", err)
		return 1
	}
	return 0
}

func clampFrameRate(rate int) int {
	if rate <= 0 {
		return 1
	}
	if rate > 60 {
		return 60
	}
	return rate
}

func initLogging(opts *Options) {
	logging.Initialize(logging.Config{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
	})
}
