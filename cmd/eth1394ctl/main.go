// Command eth1394ctl talks to FPGA boards over the Ethernet/FireWire bridge.
package main

func main() {
	Execute()
}
