package main

import (
	"github.com/spf13/cobra"

	"rttgcs/internal/app"
)

var (
	configPath string

	interfaceKind string
	serialPort    string
	serialBaud    int
	simHost       string
	simTCPPort    int
	simulate      bool
)

var rootCmd = &cobra.Command{
	Use:   "gcs",
	Short: "Ground control station for drone-mounted radio telemetry receivers",
	Long: `gcs drives a drone-mounted radio receiver payload through its
connect / configure / start / stop lifecycle, tracks link quality from the
payload's status stream, and records ping detections and transmitter
location estimates for each scan run.

Connection modes:
  Serial:    --interface serial --port /dev/ttyUSB0 [--baud 57600]
  Simulated: --interface simulated --host localhost --tcp-port 50000

Run "gcs discover" to find simulated payloads advertised on the local
network.`,
	Version: app.VersionString(),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (defaults to the user config dir)")

	runCmd.Flags().StringVar(&interfaceKind, "interface", "", "Interface kind: serial or simulated")
	runCmd.Flags().StringVarP(&serialPort, "port", "p", "", "Serial port device")
	runCmd.Flags().IntVarP(&serialBaud, "baud", "b", 0, "Baud rate (serial only)")
	runCmd.Flags().StringVar(&simHost, "host", "", "Simulated payload host")
	runCmd.Flags().IntVar(&simTCPPort, "tcp-port", 0, "Simulated payload TCP port")
	runCmd.Flags().BoolVar(&simulate, "simulate", false, "Run against an in-process payload simulator")

	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discoverTimeout, "How long to browse for payloads")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(discoverCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
