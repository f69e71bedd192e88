package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/MegaGrindStone/go-rsp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type app struct {
	v          *viper.Viper
	configFile string

	cfg      config
	logger   *slog.Logger
	registry *prometheus.Registry
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:   "rspctl",
		Short: "Drive a Runtime Server Protocol server",
		Long: `rspctl talks to a Runtime Server Protocol server to discover, create, start and
stop application servers.

The server is reached over TCP (--addr), through an SSE gateway (--url) or by
spawning it and speaking over its stdio (--exec). Every flag can also be set with
an RSP_ prefixed environment variable, in .env files or in ~/.rspctl.yaml.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is $HOME/.rspctl.yaml)")
	flags.String("addr", "", "TCP address of the server")
	flags.String("url", "", "SSE endpoint of an HTTP gateway")
	flags.StringSlice("exec", nil, "server command and arguments, spoken to over stdio")
	flags.Duration("request-timeout", 0, "timeout of metadata requests")
	flags.Duration("long-timeout", 0, "timeout of long-running requests and workflows")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	for _, name := range []string{"addr", "url", "exec", "request-timeout", "long-timeout", "log-level"} {
		if err := a.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind %s flag: %v", name, err))
		}
	}

	root.AddCommand(
		a.serversCmd(),
		a.pathsCmd(),
		a.beansCmd(),
		a.createCmd(),
		a.deleteCmd(),
		a.startCmd(),
		a.stopCmd(),
		a.stateCmd(),
		a.publishCmd(),
		a.watchCmd(),
	)

	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loadEnvFiles()
	if err := readConfigFile(a.v, a.configFile); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil {
		if err := a.v.BindPFlag("metrics-addr", f); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.logLevel()}))
	a.registry = prometheus.NewRegistry()

	return nil
}

// connect opens a connected client. The returned function closes it and, for --exec,
// waits for the server process.
func (a *app) connect(ctx context.Context) (*rsp.Client, func(), error) {
	transport, wait, err := a.transport(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := rsp.NewClient(transport,
		rsp.WithClientLogger(a.logger),
		rsp.WithClientMetrics(rsp.NewMetrics(a.registry)),
		rsp.WithClientRequestTimeout(a.cfg.RequestTimeout),
		rsp.WithClientLongTimeout(a.cfg.LongTimeout),
		rsp.WithStringPromptHandler(terminalPrompt{in: os.Stdin, out: os.Stderr}),
	)
	if err := client.Connect(ctx); err != nil {
		wait()
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}

	return client, func() {
		if err := client.Close(); err != nil {
			a.logger.Warn("failed to close client", slog.String("err", err.Error()))
		}
		wait()
	}, nil
}

func (a *app) transport(ctx context.Context) (rsp.ClientTransport, func(), error) {
	switch {
	case a.cfg.Addr != "":
		return rsp.NewTCPTransport(a.cfg.Addr, rsp.WithTCPLogger(a.logger)), func() {}, nil
	case a.cfg.URL != "":
		return rsp.NewSSEClient(a.cfg.URL, nil, rsp.WithSSEClientLogger(a.logger)), func() {}, nil
	}

	cmd := exec.CommandContext(ctx, a.cfg.Exec[0], a.cfg.Exec[1:]...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open server stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open server stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", a.cfg.Exec[0], err)
	}

	wait := func() {
		_ = stdin.Close()
		if err := cmd.Wait(); err != nil {
			a.logger.Debug("server process exited", slog.String("err", err.Error()))
		}
	}
	return rsp.NewStdIO(stdout, stdin, rsp.WithStdIOLogger(a.logger)), wait, nil
}

// terminalPrompt answers client/promptString requests from the terminal.
type terminalPrompt struct {
	in  io.Reader
	out io.Writer
}

func (p terminalPrompt) PromptString(ctx context.Context, prompt rsp.StringPrompt) (string, error) {
	fmt.Fprintf(p.out, "%s: ", prompt.Prompt)

	answers := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil && line == "" {
			errs <- err
			return
		}
		answers <- strings.TrimRight(line, "\r\n")
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errs:
		return "", err
	case answer := <-answers:
		return answer, nil
	}
}
