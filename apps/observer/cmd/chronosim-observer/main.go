// Command chronosim-observer is the operational entrypoint for running
// chronosim Simulations: `serve` starts the WebSocket/HTTP observer
// surface (trace/stats streaming plus a Prometheus /metrics endpoint);
// `run` executes a single scenario file to completion and prints its
// final stats. It keeps the teacher's apps/api/cmd/server/main.go shape
// (build a mux, wire a hub, handle OS signals for graceful shutdown) but
// parses flags through cobra instead of bare os.Getenv, since there are
// now two real subcommands rather than one fixed server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chronosim/core/clock"

	chronoconfig "github.com/chronosim/config"
	"github.com/chronosim/protocol"
	"github.com/chronosim/simulation"

	"github.com/chronosim/observer/internal/hub"
	"github.com/chronosim/observer/internal/runner"
)

var (
	configPath  string
	scenarioDir string
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:   "chronosim-observer",
		Short: "Run and observe chronosim virtual-clock simulations",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a RunConfig YAML/JSON/TOML file")
	rootCmd.PersistentFlags().StringVar(&scenarioDir, "scenario-dir", "./scenarios", "directory of *.yaml Scenario files")

	rootCmd.AddCommand(newServeCmd(log))
	rootCmd.AddCommand(newRunCmd(log))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func newServeCmd(log zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the WebSocket observer and metrics HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(log)
		},
	}
}

func newRunCmd(log zerolog.Logger) *cobra.Command {
	var durationMS int64
	var trace bool

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a single scenario file to completion and print its final stats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(log, args[0], durationMS, trace)
		},
	}
	cmd.Flags().Int64Var(&durationMS, "duration-ms", 0, "override the scenario's run.duration_ms")
	cmd.Flags().BoolVar(&trace, "trace", false, "force trace recording on, even if the scenario omits it")
	return cmd
}

func runServe(log zerolog.Logger) error {
	cfg, err := chronoconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	h := hub.New(log)
	go h.Run()

	mgr := runner.NewManager(h, scenarioDir, log)
	h.SetMessageHandler(dispatch(log, mgr, h))

	mux := http.NewServeMux()
	mux.Handle("/ws", hub.NewWebSocketHandler(h, log))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"clients": h.ClientCount(),
			"running": mgr.IsRunning(),
		})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      corsMiddleware(mux),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTP.Port).Msg("chronosim-observer listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeout)*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func runOnce(log zerolog.Logger, scenarioName string, durationMS int64, forceTrace bool) error {
	path := scenarioName
	if _, err := os.Stat(path); err != nil {
		path = scenarioDir + "/" + scenarioName + ".yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading scenario: %w", err)
	}
	sc, err := simulation.ParseScenario(data)
	if err != nil {
		return fmt.Errorf("parsing scenario: %w", err)
	}
	if durationMS > 0 {
		sc.Run.DurationMS = clock.Timestamp(durationMS)
	}
	if forceTrace {
		sc.Trace = true
	}

	sim, err := simulation.Build(sc, simulation.NewOptions{Trace: sc.Trace, Logger: log})
	if err != nil {
		return fmt.Errorf("building simulation: %w", err)
	}

	if err := sim.Run(sc.RunOptions()); err != nil {
		return fmt.Errorf("running simulation: %w", err)
	}

	log.Info().
		Str("termination_reason", sim.TerminationReason().String()).
		Int64("actual_duration_ms", int64(sim.ActualDuration())).
		Int64("real_time_elapsed_ms", sim.RealTimeElapsed()).
		Msg("run complete")

	return json.NewEncoder(os.Stdout).Encode(sim.Stats())
}

// dispatch builds the hub's onMessage callback, translating wire frames
// into runner.Manager calls, mirroring the teacher's switch-on-msgType
// handleMessage closure in apps/api/cmd/server/main.go.
func dispatch(log zerolog.Logger, mgr *runner.Manager, h *hub.Hub) func(clientID, msgType string, data []byte) {
	return func(clientID, msgType string, data []byte) {
		switch protocol.MessageType(msgType) {
		case protocol.MsgRunSimulation:
			req, err := protocol.ParseRunSimulation(data)
			if err != nil {
				sendError(h, clientID, "parse_error", err.Error())
				return
			}
			if err := mgr.Start(*req); err != nil {
				sendError(h, clientID, "start_error", err.Error())
			}

		case protocol.MsgStopSimulation:
			req, err := protocol.ParseStopSimulation(data)
			if err != nil {
				sendError(h, clientID, "parse_error", err.Error())
				return
			}
			if err := mgr.Stop(req.RunID); err != nil {
				sendError(h, clientID, "stop_error", err.Error())
			}

		case protocol.MsgGetState:
			if err := h.BroadcastJSON(mgr.GetState()); err != nil {
				log.Warn().Err(err).Msg("broadcasting get_state response")
			}

		default:
			sendError(h, clientID, "unknown_type", "unknown message type: "+msgType)
		}
	}
}

func sendError(h *hub.Hub, clientID, code, message string) {
	data, _ := protocol.ToJSON(protocol.NewError(code, message))
	h.SendToClient(clientID, data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
