// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"k8s.io/utils/ptr"

	"github.com/alexandremahdhaoui/canlink/internal/controller"
	"github.com/alexandremahdhaoui/canlink/internal/metrics"
	"github.com/alexandremahdhaoui/canlink/internal/types"
	"github.com/alexandremahdhaoui/canlink/internal/util/logging"
)

// state is shared by the commands of one invocation.
type state struct {
	configPath string
	debug      bool

	cfg *Config
	log logr.Logger
	rec *metrics.Recorder

	newApp func(cfg *Config, log logr.Logger, rec *metrics.Recorder, out io.Writer) (*app, error)
}

func newRootCmd() *cobra.Command {
	st := &state{newApp: newApp}

	root := &cobra.Command{
		Use:   "canlink",
		Short: "Bring a CAN interface up, verify it, and tear it down cleanly",
		Long: `canlink reconciles a CAN interface with the state of the host: kernel modules,
USB serial bridges (slcand), virtual interfaces, capture processes and stale lock files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init()
		},
	}

	root.PersistentFlags().StringVar(&st.configPath, "config", os.Getenv(ConfigPathEnvKey), "path to a YAML or JSON config file")
	root.PersistentFlags().BoolVarP(&st.debug, "debug", "d", false, "human-readable debug logs")

	root.AddCommand(newSetupCmd(st), newCleanupCmd(st), newStatusCmd(st))

	return root
}

func (st *state) init() error {
	cfg, err := LoadConfig(st.configPath)
	if err != nil {
		return err
	}

	if st.debug {
		cfg.DevelopmentMode = true
	}

	st.cfg = cfg
	st.log = logging.Setup(logging.Options{
		Development: cfg.DevelopmentMode,
		Level:       slog.LevelInfo,
	}).WithValues("runID", uuid.NewString())
	st.rec = metrics.NewRecorder()

	return nil
}

// run wires an app for command and records its outcome once fn returns.
func (st *state) run(cmd *cobra.Command, command string, fn func(ctx context.Context, a *app) error) (err error) {
	a, err := st.newApp(st.cfg, st.log, st.rec, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	defer func() { a.finish(command, err) }()

	return fn(cmd.Context(), a)
}

// ---------------------------------------------------- SETUP ------------------------------------------------------- //

type setupFlags struct {
	noAutostart       bool
	testOnly          bool
	status            bool
	strictPermissions bool
}

func newSetupCmd(st *state) *cobra.Command {
	var f setupFlags

	cmd := &cobra.Command{
		Use:   "setup [interface] [bitrate] [sample-point]",
		Short: "Bring a CAN interface up and register it for autostart",
		Long: `Bring a CAN interface up with the given bitrate, through a USB serial bridge when one
is attached, else as a native or virtual interface. Defaults come from $CAN_INTERFACE and
$CAN_BITRATE.`,
		Example: `  sudo canlink setup can0 500000 0.875
  canlink setup can0 --test-only`,
		Args: cobra.MaximumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseSetupArgs(args, st.cfg, f, os.Getenv("SUDO_USER"))
			if err != nil {
				return err
			}

			if f.strictPermissions {
				st.cfg.WorldAccessibleDevice = ptr.To(false)
			}

			return st.run(cmd, "setup", func(ctx context.Context, a *app) error {
				return a.setup(ctx, req)
			})
		},
	}

	cmd.Flags().BoolVar(&f.noAutostart, "no-autostart", false, "do not register the interface for autostart")
	cmd.Flags().BoolVar(&f.testOnly, "test-only", false, "only verify the interface; exit non-zero if it is not up")
	cmd.Flags().BoolVar(&f.status, "status", false, "print the current state and exit")
	cmd.Flags().BoolVar(&f.strictPermissions, "strict-permissions", false, "do not make the bridged device node world read/write")

	return cmd
}

func parseSetupArgs(args []string, cfg *Config, f setupFlags, sudoUser string) (setupRequest, error) {
	req := setupRequest{
		desired:      types.DesiredState{InterfaceName: cfg.Interface, Bitrate: cfg.Bitrate},
		samplePoint:  cfg.SamplePoint,
		noAutostart:  f.noAutostart,
		testOnly:     f.testOnly,
		status:       f.status,
		invokingUser: sudoUser,
	}

	if len(args) > 0 {
		req.desired.InterfaceName = args[0]
	}

	if len(args) > 1 {
		bitrate, err := parseBitrate(args[1])
		if err != nil {
			return setupRequest{}, err
		}
		req.desired.Bitrate = bitrate
	}

	if len(args) > 2 {
		if err := validateSamplePoint(args[2]); err != nil {
			return setupRequest{}, err
		}
		req.samplePoint = args[2]
	}

	if err := req.desired.Validate(); err != nil {
		return setupRequest{}, err
	}

	return req, nil
}

// --------------------------------------------------- CLEANUP ------------------------------------------------------ //

type cleanupFlags struct {
	all           bool
	killProcesses bool
	unloadModules bool
	full          bool
	status        bool
}

func newCleanupCmd(st *state) *cobra.Command {
	var f cleanupFlags

	cmd := &cobra.Command{
		Use:   "cleanup [interface|all]",
		Short: "Tear a CAN interface down and release what it holds",
		Long: `Bring the interface down and delete it, then remove stale CAN sockets and lock files.
Optionally stop CAN tools and serial bridges first, and unload the CAN kernel modules last.`,
		Example: `  sudo canlink cleanup can0
  sudo canlink cleanup all --full`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := parseCleanupArgs(args, st.cfg, f)

			return st.run(cmd, "cleanup", func(ctx context.Context, a *app) error {
				return a.cleanup(ctx, req)
			})
		},
	}

	cmd.Flags().BoolVar(&f.all, "all", false, "tear down every CAN interface")
	cmd.Flags().BoolVar(&f.killProcesses, "kill-processes", false, "stop candump, cansend, canplayer and slcand processes")
	cmd.Flags().BoolVar(&f.unloadModules, "unload-modules", false, "unload the CAN kernel modules")
	cmd.Flags().BoolVar(&f.full, "full", false, "same as --all --kill-processes --unload-modules")
	cmd.Flags().BoolVar(&f.status, "status", false, "print the current state and exit")

	return cmd
}

func parseCleanupArgs(args []string, cfg *Config, f cleanupFlags) cleanupRequest {
	req := cleanupRequest{
		target: cfg.Interface,
		status: f.status,
		opts: controller.TeardownOptions{
			All:           f.all || f.full,
			KillProcesses: f.killProcesses || f.full,
			UnloadModules: f.unloadModules || f.full,
		},
	}

	if len(args) > 0 {
		req.target = args[0]
	}

	if req.target == "all" {
		req.opts.All = true
	}

	if req.opts.All {
		req.target = "all"
	}

	return req
}

// ---------------------------------------------------- STATUS ------------------------------------------------------ //

func newStatusCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "status [interface]",
		Short: "Print CAN interfaces, modules, processes, USB devices and autostart records",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}

			return st.run(cmd, "status", func(ctx context.Context, a *app) error {
				a.printStatus(ctx, name)
				return nil
			})
		},
	}
}
