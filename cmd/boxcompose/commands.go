package main

import (
	"fmt"

	"github.com/artpar/boxcompose/internal/shell/docker"
	"github.com/spf13/cobra"
)

func newUpCmd(a *app) *cobra.Command {
	var opts docker.UpOptions

	cmd := &cobra.Command{
		Use:   "up [SERVICE...]",
		Short: "Create and start services in dependency order",
		Long: `Create and start services in dependency order.

Selecting services also starts every service that depends on them.
Without --detach, service output is streamed until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, orch, cleanup, err := a.prepare(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			opts.Services = args
			return orch.Up(cmd.Context(), ws, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Detach, "detach", "d", false, "Run containers in the background")
	cmd.Flags().BoolVarP(&opts.Build, "build", "b", false, "Build images before starting, recreating containers")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "Do not use cache when building images")
	cmd.Flags().BoolVar(&opts.NoRecreate, "no-recreate", false, "Keep containers that are already running")
	return cmd
}

func newDownCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "down [SERVICE...]",
		Short: "Stop and remove service containers in reverse dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, orch, cleanup, err := a.prepare(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			return orch.Down(cmd.Context(), ws, args)
		},
	}
}

func newCheckpointCmd(a *app) *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "checkpoint SERVICE",
		Short: "Commit a service's container to an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, orch, cleanup, err := a.prepare(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			image, err := orch.Checkpoint(cmd.Context(), ws, args[0], tag)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, image)
			return nil
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Image tag (default {project}-{service}:checkpoint-{unix})")
	return cmd
}
