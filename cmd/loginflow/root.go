package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dmitrymomot/loginflow/app/login"
	"github.com/dmitrymomot/loginflow/core/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "loginflow",
		Short: "Supervised login runs with multi-channel state observation",
		Long: `loginflow runs a simulated login as a child task under a supervising
parent and broadcasts every state snapshot to latest, shared, state, flow
and queue observers.

Settings come from LOGIN_* environment variables (and .env); flags
override them when set.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.Duration("delay", 0, "simulated I/O delay per phase")
	flags.String("policy", "", "await, await_unless_cancelled, join, detached, cancel, cancel_and_join or timeout")
	flags.Duration("grace", 0, "grace period for the timeout policy")
	flags.String("handler", "", "parent failure handler: installed or none")
	flags.String("handler-emission", "", "handler snapshot emission: inline or best_effort")
	flags.String("variant", "", "operation variant: propagate or local_recovery")
	flags.String("fault", "", "fault to inject, e.g. failure@running, cancellation@called, panic@completed")
	flags.Bool("parent-fault", false, "fail the parent body before the child is spawned")
	flags.String("publish-mode", "", "hub publish mode: inline, detached or best_effort")
	flags.Int("queue-capacity", 0, "queue channel capacity, -1 for unbounded")
	flags.Int("replay-size", 0, "shared channel replay cache size")
	flags.Int("parallel-emits", 0, "number of snapshots a concurrent emitter publishes")
	flags.String("log-level", "", "debug, info, warn or error")

	root.AddCommand(newRunCmd(), newServeCmd())
	return root
}

// loginConfig loads the environment configuration and applies every flag
// the user set explicitly.
func loginConfig(cmd *cobra.Command) (login.Config, error) {
	var cfg login.Config
	if err := config.Load(&cfg); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	var err error
	set := func(name string, apply func(*pflag.FlagSet) error) {
		if err == nil && flags.Changed(name) {
			err = apply(flags)
		}
	}

	set("delay", func(f *pflag.FlagSet) (e error) { cfg.Delay, e = f.GetDuration("delay"); return })
	set("policy", func(f *pflag.FlagSet) (e error) { cfg.Policy, e = f.GetString("policy"); return })
	set("grace", func(f *pflag.FlagSet) (e error) { cfg.Grace, e = f.GetDuration("grace"); return })
	set("handler", func(f *pflag.FlagSet) (e error) { cfg.Handler, e = f.GetString("handler"); return })
	set("handler-emission", func(f *pflag.FlagSet) (e error) {
		cfg.HandlerEmission, e = f.GetString("handler-emission")
		return
	})
	set("variant", func(f *pflag.FlagSet) (e error) { cfg.Variant, e = f.GetString("variant"); return })
	set("fault", func(f *pflag.FlagSet) (e error) { cfg.Fault, e = f.GetString("fault"); return })
	set("parent-fault", func(f *pflag.FlagSet) (e error) { cfg.ParentFault, e = f.GetBool("parent-fault"); return })
	set("publish-mode", func(f *pflag.FlagSet) (e error) { cfg.PublishMode, e = f.GetString("publish-mode"); return })
	set("queue-capacity", func(f *pflag.FlagSet) (e error) { cfg.QueueCapacity, e = f.GetInt("queue-capacity"); return })
	set("replay-size", func(f *pflag.FlagSet) (e error) { cfg.ReplaySize, e = f.GetInt("replay-size"); return })
	set("parallel-emits", func(f *pflag.FlagSet) (e error) { cfg.ParallelEmits, e = f.GetInt("parallel-emits"); return })
	set("log-level", func(f *pflag.FlagSet) (e error) { cfg.LogLevel, e = f.GetString("log-level"); return })
	if err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}
