package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/panelsvc"
	"github.com/loykin/panelsvc/internal/detector"
	"github.com/loykin/panelsvc/pkg/client"
)

func createOpenCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Signal a panel open: ensure the service runs and print its view target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			vt, err := c.Open(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), vt)
			return nil
		},
	}
}

func createCloseCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Signal a panel close (the service keeps running)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			return c.Close(cmd.Context())
		},
	}
}

func createShutdownCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Signal application shutdown: stop the service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			return c.Shutdown(cmd.Context())
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's view of the service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := newClient(flags)
			if err != nil {
				return err
			}
			if !c.IsReachable(cmd.Context()) {
				return fmt.Errorf("daemon not reachable at %s", resolveAPIURLOrEmpty(flags))
			}
			st, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

// CheckReport is the output of the check command.
type CheckReport struct {
	Config       string `json:"config,omitempty"`
	Executable   string `json:"executable"`
	Script       string `json:"script,omitempty"`
	URL          string `json:"url"`
	Dependencies string `json:"dependencies"`
	AddressInUse bool   `json:"address_in_use"`
	PriorPID     int    `json:"prior_pid,omitempty"`
	OK           bool   `json:"ok"`
}

func createCheckCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate config and dependencies without launching anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(flags.ConfigPath, cmd.OutOrStdout())
		},
	}
}

func runCheck(configPath string, out io.Writer) error {
	cfg, err := panelsvc.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	sc := cfg.ServiceConfig()
	rep := CheckReport{
		Config:       configPath,
		Executable:   sc.ExecutablePath,
		Script:       sc.ScriptFullPath(),
		URL:          sc.URL(),
		Dependencies: "ok",
	}
	depErr := panelsvc.CheckDependencies(sc)
	if depErr != nil {
		rep.Dependencies = depErr.Error()
	}
	rep.AddressInUse, _ = detector.TCPDetector{Address: sc.Address()}.Alive()
	if sc.PIDFile != "" {
		if pid, alive, err := (detector.PIDFileDetector{PIDFile: sc.PIDFile}).Lookup(); err == nil && alive {
			rep.PriorPID = pid
		}
	}
	rep.OK = depErr == nil
	printJSON(out, rep)
	if depErr != nil {
		return errors.New("dependency check failed")
	}
	return nil
}

func newClient(flags *GlobalFlags) (*client.Client, error) {
	u, err := resolveAPIURL(flags)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{BaseURL: u, Timeout: flags.APITimeout}), nil
}

// resolveAPIURL prefers --api-url, then [server] of the config (or its defaults).
func resolveAPIURL(flags *GlobalFlags) (string, error) {
	if flags.APIUrl != "" {
		return flags.APIUrl, nil
	}
	cfg, err := panelsvc.LoadConfig(flags.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("error loading config: %w", err)
	}
	return apiURLFor(cfg.Server.Listen, cfg.Server.BasePath), nil
}

func resolveAPIURLOrEmpty(flags *GlobalFlags) string {
	u, _ := resolveAPIURL(flags)
	return u
}

// apiURLFor turns a listen address into a dialable URL; an unspecified host
// becomes loopback.
func apiURLFor(listen, basePath string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = listen, ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	addr := host
	if port != "" {
		addr = net.JoinHostPort(host, port)
	}
	bp := strings.TrimRight(basePath, "/")
	if bp != "" && !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return "http://" + addr + bp
}
