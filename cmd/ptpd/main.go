/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command ptpd is an IEEE 1588-2019 Ordinary/Boundary Clock instance:
// "serve" runs the daemon, "status" polls a running one for its current
// BMCA/servo state the way ptpcheck polls ptp4l, except over this
// daemon's own monitoring port instead of a management socket.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// RootCmd is ptpd's entry point, exported the way ptpcheck's RootCmd is
// so callers embedding this command can add their own subcommands.
var RootCmd = &cobra.Command{
	Use:   "ptpd",
	Short: "IEEE 1588-2019 Ordinary/Boundary Clock instance",
}

var serveConfigFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the PTP instance",
	RunE:  runServe,
}

var statusAddrFlag string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show a running instance's BMCA and servo state",
	RunE:  runStatus,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFlag, "config", "c", "/etc/ptpd.yaml", "path to the instance config file")
	RootCmd.AddCommand(serveCmd)

	statusCmd.Flags().StringVarP(&statusAddrFlag, "addr", "a", "http://127.0.0.1:8888", "monitoring address of a running ptpd")
	RootCmd.AddCommand(statusCmd)
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info", "":
		log.SetLevel(log.InfoLevel)
	case "warning", "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.Fatalf("unrecognized log level: %v", level)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := ReadConfig(serveConfigFlag)
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.CreatePidFile(); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer func() {
		if err := cfg.DeletePidFile(); err != nil {
			log.Warnf("removing pid file: %v", err)
		}
	}()

	d, err := NewDaemon(cfg)
	if err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.Reporter().Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", d.statusHandler)
	monitoringAddr := fmt.Sprintf(":%d", cfg.MonitoringPort)
	go func() {
		log.Infof("monitoring server listening on %s", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, mux); err != nil {
			log.Warnf("monitoring server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		d.Stop()
	}()

	return d.Run()
}

func runStatus(cmd *cobra.Command, args []string) error {
	snap, err := fetchStatus(statusAddrFlag + "/status")
	if err != nil {
		return fmt.Errorf("fetching status from %s: %w", statusAddrFlag, err)
	}

	colorize := term.IsTerminal(int(os.Stdout.Fd()))
	role := snap.GrandmasterIdentity
	if snap.IsGrandmaster {
		role = "self (grandmaster)"
	}
	stateString := func(s string) string {
		if !colorize {
			return s
		}
		switch s {
		case "MASTER", "SLAVE":
			return color.GreenString(s)
		case "FAULTY":
			return color.RedString(s)
		case "LISTENING", "PRE_MASTER", "UNCALIBRATED":
			return color.YellowString(s)
		default:
			return s
		}
	}

	fmt.Printf("clock identity:      %s\n", snap.ClockIdentity)
	fmt.Printf("instance type:        %s\n", snap.InstanceType)
	fmt.Printf("grandmaster:          %s\n", role)
	fmt.Printf("steps removed:        %d\n", snap.StepsRemoved)
	fmt.Printf("offset from master:   %s\n", ns(snap.OffsetFromMasterNS))
	fmt.Printf("mean path delay:      %s\n", ns(snap.MeanPathDelayNS))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Interface", "Port Identity", "State", "Mean Link Delay"})
	for _, p := range snap.Ports {
		table.Append([]string{p.Interface, p.Identity, stateString(p.State), ns(int64(p.MeanDelay))})
	}
	table.Render()
	return nil
}

func ns(v int64) string {
	return fmt.Sprintf("%dns", v)
}

func main() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
