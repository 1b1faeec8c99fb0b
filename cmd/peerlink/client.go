package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/peerlink-core/internal/catalog"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/config"
	"github.com/nerrad567/peerlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/peerlink-core/internal/model"
)

// defaultExecTimeout is how long exec waits for a command by default.
const defaultExecTimeout = 30 * time.Second

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog <host>",
		Short: "Print a host's exposed catalog as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			h, err := openStore(cmd.Context(), cfg, cliClientID(cfg), log)
			if err != nil {
				return err
			}
			defer h.Close()

			snap, err := catalog.NewClient(h.store, cfg.Commands.WaitInterval).FetchCatalog(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), snap)
		},
	}
}

func newExecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <host> <verb> <path>",
		Short: "Queue a command for a host and wait for its result",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, _ := cmd.Flags().GetString("body")
			key, _ := cmd.Flags().GetString("key")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if timeout <= 0 {
				return fmt.Errorf("--timeout must be positive")
			}
			if body != "" && !json.Valid([]byte(body)) {
				return fmt.Errorf("--body must be valid JSON")
			}

			cfg, log, err := loadCLIConfig(cmd)
			if err != nil {
				return err
			}
			h, err := openStore(cmd.Context(), cfg, cliClientID(cfg), log)
			if err != nil {
				return err
			}
			defer h.Close()

			client := catalog.NewClient(h.store, cfg.Commands.WaitInterval)
			req := catalog.CommandRequest{
				HostID:         args[0],
				Verb:           args[1],
				Path:           args[2],
				IdempotencyKey: key,
			}
			if body != "" {
				req.Body = []byte(body)
			}

			queued, err := client.CreateCommand(cmd.Context(), req)
			if err != nil {
				return err
			}
			log.Info("command queued", "command_id", queued.ID, "host", queued.HostID)

			done, err := client.WaitForCommand(cmd.Context(), queued.ID, timeout)
			if err != nil {
				return fmt.Errorf("command %s: %w", queued.ID, err)
			}
			if err := writeJSON(cmd.OutOrStdout(), commandOutput(done)); err != nil {
				return err
			}
			if done.State == model.CommandFailed {
				return fmt.Errorf("command %s failed with status %d", done.ID, done.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().String("body", "", "JSON request body")
	cmd.Flags().String("key", "", "idempotency key; repeating it returns the first command")
	cmd.Flags().Duration("timeout", defaultExecTimeout, "how long to wait for the result")
	return cmd
}

// execResult is what exec prints. Result is inlined when it is JSON.
type execResult struct {
	CommandID    string             `json:"commandId"`
	State        model.CommandState `json:"state"`
	StatusCode   int                `json:"statusCode"`
	Result       any                `json:"result,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
}

func commandOutput(cmd *model.Command) execResult {
	out := execResult{
		CommandID:    cmd.ID,
		State:        cmd.State,
		StatusCode:   cmd.StatusCode,
		ErrorMessage: cmd.ErrorMessage,
	}
	if len(cmd.Result) > 0 {
		if json.Valid(cmd.Result) {
			out.Result = json.RawMessage(cmd.Result)
		} else {
			out.Result = string(cmd.Result)
		}
	}
	return out
}

// loadCLIConfig loads the config for a short-lived command. Logs go to
// stderr at warn level so stdout stays parseable.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logCfg.Level = "warn"
	return cfg, logging.New(logCfg, version), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
