package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/MegaGrindStone/go-rsp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// withClient runs fn with a connected client and closes it afterwards.
func (a *app) withClient(fn func(cmd *cobra.Command, client *rsp.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, closeClient, err := a.connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient()

		return fn(cmd, client, args)
	}
}

func (a *app) serversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List the servers defined on the RSP server",
		Args:  cobra.NoArgs,
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, _ []string) error {
			handles, err := client.GetServerHandles(cmd.Context())
			if err != nil {
				return err
			}
			for _, h := range handles {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", h.ID, h.Type.ID)
			}
			return nil
		}),
	}
}

func (a *app) pathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "List, add or remove discovery paths",
		Args:  cobra.NoArgs,
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, _ []string) error {
			paths, err := client.GetDiscoveryPaths(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p.Filepath)
			}
			return nil
		}),
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <path>",
			Short: "Add a discovery path and wait until the server reports it",
			Args:  cobra.ExactArgs(1),
			RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
				p, err := client.AddDiscoveryPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", p.Filepath)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "remove <path>",
			Short: "Remove a discovery path and wait until the server reports it",
			Args:  cobra.ExactArgs(1),
			RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
				p, err := client.RemoveDiscoveryPath(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", p.Filepath)
				return nil
			}),
		},
	)
	return cmd
}

func (a *app) beansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "beans <path>",
		Short: "Show the server installations found under a path",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			beans, err := client.FindServerBeans(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), beans)
		}),
	}
}

func (a *app) createCmd() *cobra.Command {
	var attributesFile string

	cmd := &cobra.Command{
		Use:   "create <path> <id>",
		Short: "Create a server from the installation found under a path",
		Args:  cobra.ExactArgs(2),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			var opts []rsp.CallOption
			if attributesFile != "" {
				attrs, err := readAttributes(attributesFile)
				if err != nil {
					return err
				}
				opts = append(opts, rsp.WithAttributes(attrs))
			}

			handle, err := client.CreateServerFromPath(cmd.Context(), args[0], args[1], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", handle.ID, handle.Type.ID)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&attributesFile, "attributes", "a", "", "YAML file with extra creation attributes")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a server and wait until the server reports it",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			handle, err := findHandle(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			if _, err := client.DeleteServer(cmd.Context(), handle); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", handle.ID)
			return nil
		}),
	}
}

func (a *app) startCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start a server and wait until it is started",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			handle, err := findHandle(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}

			// Mirror the server output while it starts.
			sub := client.Bus().OnServerProcessOutputAppended(func(out rsp.ServerProcessOutput) {
				if out.Server.ID == handle.ID {
					fmt.Fprint(cmd.ErrOrStderr(), out.Text)
				}
			})
			defer sub.Unsubscribe()

			state, err := client.StartServer(cmd.Context(), rsp.LaunchParameters{
				Mode: mode,
				Params: rsp.ServerAttributes{
					ID:         handle.ID,
					ServerType: handle.Type.ID,
					Attributes: map[string]any{},
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", state.Server.ID, state.State)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", rsp.RunModeRun, "launch mode")
	return cmd
}

func (a *app) stopCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a server and wait until it is stopped",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			state, err := client.StopServer(cmd.Context(), rsp.StopServerAttributes{ID: args[0], Force: force})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", state.Server.ID, state.State)
			return nil
		}),
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "stop without waiting for a clean shutdown")
	return cmd
}

func (a *app) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <id>",
		Short: "Show the state of a server and its deployables",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			handle, err := findHandle(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			state, err := client.GetServerState(cmd.Context(), handle)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), stateView(state))
		}),
	}
}

func (a *app) publishCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "publish <id>",
		Short: "Publish the deployables of a server",
		Args:  cobra.ExactArgs(1),
		RunE: a.withClient(func(cmd *cobra.Command, client *rsp.Client, args []string) error {
			handle, err := findHandle(cmd.Context(), client, args[0])
			if err != nil {
				return err
			}
			kind := rsp.PublishIncremental
			if full {
				kind = rsp.PublishFull
			}
			status, err := client.Publish(cmd.Context(), rsp.PublishServerRequest{Server: handle, Kind: kind})
			if err != nil {
				return err
			}
			return status.Err()
		}),
	}
	cmd.Flags().BoolVar(&full, "full", false, "republish everything")
	return cmd
}

func findHandle(ctx context.Context, client *rsp.Client, id string) (rsp.ServerHandle, error) {
	handles, err := client.GetServerHandles(ctx)
	if err != nil {
		return rsp.ServerHandle{}, err
	}
	i := slices.IndexFunc(handles, func(h rsp.ServerHandle) bool {
		return h.ID == id
	})
	if i < 0 {
		return rsp.ServerHandle{}, fmt.Errorf("%w: no server %q", rsp.ErrNoMatch, id)
	}
	return handles[i], nil
}

type deployableView struct {
	Label        string `yaml:"label"`
	Path         string `yaml:"path"`
	State        string `yaml:"state"`
	PublishState string `yaml:"publishState"`
}

type serverStateView struct {
	ID           string           `yaml:"id"`
	Type         string           `yaml:"type"`
	State        string           `yaml:"state"`
	PublishState string           `yaml:"publishState"`
	RunMode      string           `yaml:"runMode,omitempty"`
	Deployables  []deployableView `yaml:"deployables,omitempty"`
}

func stateView(st rsp.ServerState) serverStateView {
	v := serverStateView{
		ID:           st.Server.ID,
		Type:         st.Server.Type.ID,
		State:        st.State.String(),
		PublishState: st.PublishState.String(),
		RunMode:      st.RunMode,
	}
	for _, d := range st.DeployableStates {
		v.Deployables = append(v.Deployables, deployableView{
			Label:        d.Reference.Label,
			Path:         d.Reference.Path,
			State:        d.State.String(),
			PublishState: d.PublishState.String(),
		})
	}
	return v
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
