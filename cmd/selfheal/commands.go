// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSelfHeal/pkg/config"
	"github.com/AleutianAI/AleutianSelfHeal/services/testgen/api"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = api.ServiceVersion

var (
	rootCmd = &cobra.Command{
		Use:           "selfheal",
		Short:         "Generate and self-heal API test suites",
		Long:          `selfheal plans, writes, executes and repairs JUnit/RestAssured test suites for an API described by a normalized spec.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	configPath string
	logLevel   string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Long:  `Starts the HTTP API: POST /v1/runs starts a run, GET /v1/runs/:id polls it and GET /v1/runs/:id/stream follows its log over a websocket.`,
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	listenAddr string

	runCmd = &cobra.Command{
		Use:   "run [spec-id]",
		Short: "Run the pipeline in-process and wait for the result",
		Long: `Runs one pipeline without a server. Exits 0 when the final suite passes
or execution was disabled, 1 when the run completed with failing tests and
2 when the run failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	runOpts runFlags

	statusCmd = &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status of a run on a server",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List runs on a server, newest first",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	serverURL  string
	jsonOutput bool
	listLimit  int
	listPhase  string
	listSpec   string

	initCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "selfheal %s\n", Version)
		},
	}
)

// runFlags are the flags of the run command.
type runFlags struct {
	specFiles     []string
	maxIterations int
	outputDir     string
	namespace     string
	noExecute     bool
	operations    []string
	baseURL       string
	pollInterval  time.Duration
	verbose       bool
	json          bool
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $SELFHEAL_CONFIG or ~/.selfheal/selfheal.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides server.addr)")

	f := runCmd.Flags()
	f.StringArrayVar(&runOpts.specFiles, "spec-file", nil, "load the spec from this file instead of the spec directory (repeatable)")
	f.IntVarP(&runOpts.maxIterations, "max-iterations", "n", 0, "maximum executor invocations (1-10)")
	f.StringVarP(&runOpts.outputDir, "output", "o", "", "directory the suite is written under")
	f.StringVar(&runOpts.namespace, "namespace", "", "Java package of the generated classes")
	f.BoolVar(&runOpts.noExecute, "no-execute", false, "write the suite without running it")
	f.StringArrayVar(&runOpts.operations, "operation", nil, "operationId or \"METHOD /path\" to include (repeatable)")
	f.StringVar(&runOpts.baseURL, "base-url", "", "API base URL used by the generated tests")
	f.DurationVar(&runOpts.pollInterval, "poll-interval", 500*time.Millisecond, "status poll interval")
	f.BoolVarP(&runOpts.verbose, "verbose", "v", false, "show logs on the terminal")
	f.BoolVar(&runOpts.json, "json", false, "print the final status as JSON")

	for _, c := range []*cobra.Command{statusCmd, listCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:8089", "selfheal server URL")
		c.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum runs to show")
	listCmd.Flags().StringVar(&listPhase, "phase", "", "only runs in this phase")
	listCmd.Flags().StringVar(&listSpec, "spec", "", "only runs of this spec")

	rootCmd.AddCommand(serveCmd, runCmd, statusCmd, listCmd, initCmd, versionCmd)
}

// loadConfig loads the configuration and applies root flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath()
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return fmt.Errorf("no home directory; pass a path")
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", path)
	return nil
}
