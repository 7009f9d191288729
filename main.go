// Command ikvmd serves a headless KVM-over-IP console: RFB/VNC out one
// side, V4L2 capture and a USB HID gadget out the other.
package main

import (
	"os"

	"github.com/openbmc/ikvmd/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
