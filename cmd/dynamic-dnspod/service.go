package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/kardianos/service"

	"github.com/bkero/dynamic-dnspod/pkg/config"
)

const serviceName = "dynamic-dnspod"

// serviceActions are the values accepted by -d.
var serviceActions = append(service.ControlAction[:], "status")

func isServiceAction(action string) bool {
	return slices.Contains(serviceActions, action)
}

// program adapts run to service.Interface. Start must not block, so the
// loop runs in its own goroutine until Stop cancels it. A run that fails on
// its own exits the process with status 1 so the service manager sees it.
type program struct {
	opts options
	log  *slog.Logger
	exit func(code int) // os.Exit when nil

	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(_ service.Service) error {
	if _, err := config.Load(p.opts.configPath); err != nil {
		p.log.Error("cannot start", "config", p.opts.configPath, "err", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() {
		err := run(ctx, p.opts, p.log)
		if err != nil && ctx.Err() == nil {
			p.log.Error("dynamic-dnspod exited with error", "err", err)
			p.exitFunc()(1)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) exitFunc() func(int) {
	if p.exit != nil {
		return p.exit
	}
	return os.Exit
}

func (p *program) Stop(_ service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error("dynamic-dnspod exited with error", "err", err)
		}
	case <-time.After(p.opts.shutdownTimeout):
		p.log.Warn("shutdown timeout exceeded, forcing exit", "timeout", p.opts.shutdownTimeout.String())
	}
	return nil
}

// newService describes dynamic-dnspod to the OS service manager. The
// installed unit re-runs this binary with the current flags minus -d.
func newService(prg service.Interface, opts options) (service.Service, error) {
	args, err := serviceArguments(opts)
	if err != nil {
		return nil, err
	}
	var system string
	if s := service.ChosenSystem(); s != nil {
		system = s.String()
	}
	kv, depends, err := serviceOptions(system, opts)
	if err != nil {
		return nil, err
	}

	return service.New(prg, &service.Config{
		Name:         serviceName,
		DisplayName:  "Dynamic DNSPod",
		Description:  "Keeps DNSPod records pointed at this host's public IP address.",
		Arguments:    args,
		Dependencies: depends,
		Option:       kv,
	})
}

// serviceOptions returns the init-system specific options and unit
// dependencies for system (a service.System name).
func serviceOptions(system string, opts options) (service.KeyValue, []string, error) {
	kv := make(service.KeyValue)
	var depends []string
	switch system {
	case "linux-systemd":
		depends = append(depends,
			"Requires=network.target",
			"After=network-online.target syslog.target")
		kv["Restart"] = "on-failure"
	case "darwin-launchd":
		kv["KeepAlive"] = true
		kv["RunAtLoad"] = true
	case "windows-service":
		kv["DelayedAutoStart"] = true
		kv["OnFailure"] = "restart"
	}
	if opts.pidPath != "" {
		pid, err := filepath.Abs(opts.pidPath)
		if err != nil {
			return nil, nil, fmt.Errorf("resolving -p path: %w", err)
		}
		kv["PIDFile"] = pid
	}
	return kv, depends, nil
}

// serviceArguments returns the command line the service manager starts
// the binary with. Paths are made absolute since services do not run in
// the caller's working directory.
func serviceArguments(opts options) ([]string, error) {
	cfgPath, err := filepath.Abs(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	args := []string{"-c", cfgPath}

	for _, f := range []struct{ flag, path string }{{"-l", opts.logPath}, {"-p", opts.pidPath}} {
		if f.path == "" {
			continue
		}
		abs, err := filepath.Abs(f.path)
		if err != nil {
			return nil, fmt.Errorf("resolving %s path: %w", f.flag, err)
		}
		args = append(args, f.flag, abs)
	}

	args = append(args, "-log-level", opts.logLevel)
	if opts.healthPort != 0 {
		args = append(args, "-health-port", strconv.Itoa(opts.healthPort))
	}
	if opts.dryRun {
		args = append(args, "-dry-run")
	}
	return args, nil
}

// controlService performs a -d action against s and reports the outcome on out.
func controlService(s service.Service, action string, out io.Writer) error {
	if action == "status" {
		st, err := s.Status()
		if err != nil {
			if errors.Is(err, service.ErrNotInstalled) {
				fmt.Fprintln(out, "not installed")
				return nil
			}
			return fmt.Errorf("service status: %w", err)
		}
		fmt.Fprintln(out, statusString(st))
		return nil
	}

	if !isServiceAction(action) {
		return fmt.Errorf("unknown service action %q", action)
	}
	if err := service.Control(s, action); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s ok\n", serviceName, action)
	return nil
}

func statusString(st service.Status) string {
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
