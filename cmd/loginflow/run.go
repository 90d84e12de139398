package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/loginflow"
	"github.com/dmitrymomot/loginflow/app/login"
	"github.com/dmitrymomot/loginflow/core/logger"
	"github.com/dmitrymomot/loginflow/core/supervisor"
	"github.com/dmitrymomot/loginflow/pkg/broadcast"
)

type runOptions struct {
	background  time.Duration
	cancelAfter time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one login and print every channel",
		Long: `Run subscribes an observer to each hub channel, runs one supervised
login and prints every snapshot each observer receives, followed by the
run result, the info message and the state machine transitions.

--background pauses every observer for the given duration, which shows how
each channel behaves while its consumer is not scheduled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loginConfig(cmd)
			if err != nil {
				return err
			}
			return runLogin(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.background, "background", 0, "pause every observer for this long once the run starts")
	cmd.Flags().DurationVar(&opts.cancelAfter, "cancel-after", 0, "cancel the run from the caller after this long")
	return cmd
}

func runLogin(ctx context.Context, out, errOut io.Writer, cfg login.Config, opts runOptions) error {
	log := logger.New(
		logger.WithOutput(errOut),
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithContextExtractors(logger.RunIDExtractor),
	)

	app, err := login.NewApp(login.WithConfig(cfg), login.WithLogger(log))
	if err != nil {
		return err
	}

	p := &printer{w: out}
	var (
		wg   sync.WaitGroup
		subs []broadcast.Subscription[loginflow.State]
	)
	for _, ch := range app.Hub().Channels() {
		sub := ch.Subscribe()
		if opts.background > 0 {
			sub.Pause()
		}
		subs = append(subs, sub)

		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			p.drain(name, sub)
		}(ch.Name())
	}

	resumeAll := func() {
		for _, sub := range subs {
			sub.Resume()
		}
	}
	var resume *time.Timer
	if opts.background > 0 {
		resume = time.AfterFunc(opts.background, resumeAll)
	}

	runCtx := ctx
	if opts.cancelAfter > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.cancelAfter)
		defer cancel()
	}

	loginErr := app.Login(runCtx)

	if resume != nil && resume.Stop() {
		resumeAll()
	}
	// Closed channels still hand out what their observers have not read yet.
	closeErr := app.Close()
	wg.Wait()

	res, _ := app.LastResult()
	p.result(res, app.InfoMessage().Value())

	return errors.Join(loginErr, closeErr)
}

// printer serializes output of the channel observers.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) drain(name string, sub broadcast.Subscription[loginflow.State]) {
	defer sub.Close()
	for {
		s, err := sub.Next(context.Background())
		if err != nil {
			return
		}
		p.printf("%-6s %s\n", name, s)
	}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) result(res supervisor.Result, info string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\noutcome:   %s\n", res.Outcome)
	fmt.Fprintf(p.w, "logged in: %t\n", res.LoggedIn)
	fmt.Fprintf(p.w, "run id:    %s\n", res.RunID)
	fmt.Fprintf(p.w, "duration:  %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(p.w, "final:     %s\n", res.Final)
	if res.Err != nil {
		fmt.Fprintf(p.w, "error:     %s\n", loginflow.Message(res.Err))
	}
	fmt.Fprintf(p.w, "info:      %s\n", info)

	fmt.Fprintln(p.w, "transitions:")
	for _, tr := range res.Transitions {
		fmt.Fprintf(p.w, "  %-18s %s -> %s\n", tr.Event, tr.From, tr.To)
	}
}
