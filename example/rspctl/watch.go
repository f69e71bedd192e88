package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MegaGrindStone/go-rsp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func (a *app) watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print server events until interrupted",
		Long: `watch prints every event the RSP server broadcasts until interrupted.

With --metrics-addr, client metrics are served on /metrics at that address.`,
		Args: cobra.NoArgs,
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, _ []string) error {
			ctx := cmd.Context()

			if a.cfg.MetricsAddr != "" {
				srv := &http.Server{
					Addr:              a.cfg.MetricsAddr,
					Handler:           newMetricsRouter(a.registry),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", slog.String("err", err.Error()))
					}
				}()
				defer func() {
					sCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(sCtx)
				}()
				a.logger.Info("serving metrics", slog.String("addr", a.cfg.MetricsAddr))
			}

			printEvents(client.Bus(), cmd.OutOrStdout())

			select {
			case <-ctx.Done():
				return nil
			case <-client.Done():
				return errors.New("connection to the server closed")
			}
		}),
	}
	cmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9090")
	return cmd
}

func newMetricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}).ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	return r
}

// printEvents writes one line per event to w.
func printEvents(bus *rsp.EventBus, w io.Writer) {
	bus.OnDiscoveryPathAdded(func(p rsp.DiscoveryPath) {
		fmt.Fprintf(w, "discovery path added\t%s\n", p.Filepath)
	})
	bus.OnDiscoveryPathRemoved(func(p rsp.DiscoveryPath) {
		fmt.Fprintf(w, "discovery path removed\t%s\n", p.Filepath)
	})
	bus.OnServerAdded(func(h rsp.ServerHandle) {
		fmt.Fprintf(w, "server added\t%s\t%s\n", h.ID, h.Type.ID)
	})
	bus.OnServerRemoved(func(h rsp.ServerHandle) {
		fmt.Fprintf(w, "server removed\t%s\n", h.ID)
	})
	bus.OnServerAttributesChanged(func(h rsp.ServerHandle) {
		fmt.Fprintf(w, "server attributes changed\t%s\n", h.ID)
	})
	bus.OnServerStateChanged(func(st rsp.ServerState) {
		fmt.Fprintf(w, "server state changed\t%s\t%s\t%s\n", st.Server.ID, st.State, st.PublishState)
	})
	bus.OnServerProcessCreated(func(p rsp.ServerProcess) {
		fmt.Fprintf(w, "process created\t%s\t%s\n", p.Server.ID, p.ProcessID)
	})
	bus.OnServerProcessTerminated(func(p rsp.ServerProcess) {
		fmt.Fprintf(w, "process terminated\t%s\t%s\n", p.Server.ID, p.ProcessID)
	})
	bus.OnServerProcessOutputAppended(func(out rsp.ServerProcessOutput) {
		fmt.Fprintf(w, "%s| %s", out.Server.ID, out.Text)
	})
}
