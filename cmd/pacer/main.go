package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/lowaak/treadmill-pacer/internal/app"
	"github.com/lowaak/treadmill-pacer/internal/config"
	"github.com/lowaak/treadmill-pacer/internal/control"
	"github.com/lowaak/treadmill-pacer/internal/foreground"
	"github.com/lowaak/treadmill-pacer/internal/logging"
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/safego"
	"github.com/lowaak/treadmill-pacer/internal/ui"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pacer",
		Short:         "Treadmill interval pacer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newPlansCmd())
	root.AddCommand(newHistoryCmd())
	return root
}

type runtime struct {
	cfg    config.Config
	logger *log.Logger
	closer io.Closer
}

func (r runtime) Close() {
	_ = r.closer.Close()
}

// loadRuntime resolves the configuration and builds the process logger.
// uiLines, when set, receives log lines instead of standard error.
func loadRuntime(cmd *cobra.Command, uiLines chan<- string) (runtime, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return runtime{}, err
	}
	logger, closer, err := logging.New(logging.Options{
		File:    cfg.LogFile,
		Stderr:  uiLines == nil,
		UILines: uiLines,
	})
	if err != nil {
		return runtime{}, fmt.Errorf("open log: %w", err)
	}
	return runtime{cfg: cfg, logger: logger, closer: closer}, nil
}

func newRunCmd() *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "run [plan]",
		Short: "Run a workout with voice and beep cues",
		Long: "Run a workout from the plan library, or an inline plan such as \"4x2m,6x1m\".\n" +
			"Without --headless the terminal dashboard opens and the plan is optional.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan := ""
			if len(args) == 1 {
				plan = args[0]
			}
			if headless {
				if plan == "" {
					return errors.New("a plan is required with --headless")
				}
				return runHeadless(cmd, plan)
			}
			return runDashboard(cmd, plan)
		},
	}
	cmd.Flags().BoolVar(&headless, "headless", false, "no dashboard; log progress and exit when the workout ends")
	return cmd
}

func runHeadless(cmd *cobra.Command, plan string) error {
	rt, err := loadRuntime(cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := app.New(rt.cfg, rt.logger, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := a.ResolvePlan(plan)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rt.cfg.Treadmill.Enabled {
		if _, err := a.ConnectTreadmill(ctx); err != nil {
			rt.logger.Printf("Main: Treadmill unavailable, pacing without it: %v", err)
		}
	}

	outcomes := make(chan pacer.Outcome, 1)
	unregister := a.Controller.OnFinish(func(o pacer.Outcome) {
		select {
		case outcomes <- o:
		default:
		}
	})
	defer unregister()

	sessionID, err := a.StartWorkout(w)
	if err != nil {
		return err
	}

	var o pacer.Outcome
	select {
	case o = <-outcomes:
	case <-ctx.Done():
		rt.logger.Println("Main: Interrupted, stopping workout")
		if err := a.Controller.Control(sessionID, app.CommandStop); err != nil {
			rt.logger.Printf("Main: Stop failed: %v", err)
		}
		o = <-outcomes
	}

	status := "completed"
	if o.Aborted {
		status = "stopped"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s after %s\n", w.Name, status, foreground.FormatClock(o.ElapsedSeconds))
	return o.Err
}

func runDashboard(cmd *cobra.Command, plan string) error {
	lines := make(chan string, 256)
	rt, err := loadRuntime(cmd, lines)
	if err != nil {
		return err
	}
	defer rt.Close()

	tail := logging.NewTail(0)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	safego.Go(rt.logger, func() { tail.Run(ctx, lines) })

	status := ui.NewStatusLine()
	a, err := app.New(rt.cfg, rt.logger, app.Options{
		Presenter: status,
		// the bell still works with the screen owned by the dashboard
		BeepOut: os.Stdout,
	})
	if err != nil {
		return err
	}
	defer a.Close()
	unregisterPulses := a.ListenPulses(status.Pulse)
	defer unregisterPulses()

	dash := ui.NewDashboard(ui.DashboardArg{
		App:          tview.NewApplication(),
		Sessions:     a.Controller,
		Workouts:     a.Workouts(),
		Units:        rt.cfg.Units,
		VoiceEnabled: rt.cfg.VoiceEnabled,
		Status:       status,
		Tail:         tail,
		Logger:       rt.logger,
	})

	if rt.cfg.Treadmill.Enabled {
		safego.Go(rt.logger, func() {
			tm, err := a.ConnectTreadmill(ctx)
			if err != nil {
				rt.logger.Printf("Main: Treadmill unavailable, pacing without it: %v", err)
				return
			}
			dash.AttachTreadmill(tm)
		})
	}

	if plan != "" {
		w, err := a.ResolvePlan(plan)
		if err != nil {
			return err
		}
		if _, err := a.StartWorkout(w); err != nil {
			return err
		}
	}

	rt.logger.Println("Main: Dashboard starting")
	return dash.Run()
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket control surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := app.New(rt.cfg, rt.logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if rt.cfg.Treadmill.Enabled {
				safego.Go(rt.logger, func() {
					if _, err := a.ConnectTreadmill(ctx); err != nil {
						rt.logger.Printf("Main: Treadmill unavailable, pacing without it: %v", err)
					}
				})
			}

			handler := control.NewHandler(control.HandlerArg{
				Sessions: a.Controller,
				Plans:    a,
				Units:    rt.cfg.Units,
				Logger:   rt.logger,
			})
			ready := make(chan string, 1)
			safego.Go(rt.logger, func() {
				select {
				case addr := <-ready:
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listening on http://%s\n", addr)
				case <-ctx.Done():
				}
			})
			return control.Serve(ctx, rt.cfg.HTTPAddr, handler.Routes(), rt.logger, ready)
		},
	}
}

func newPlansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the workout library",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := app.New(rt.cfg, rt.logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			for _, w := range a.Workouts() {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d blocks\n", w.Name, w.TotalDuration(), len(w.Blocks))
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show finished sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadRuntime(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			a, err := app.New(rt.cfg, rt.logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			entries, err := a.Controller.History(ctx, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}
			for _, e := range entries {
				status := "completed"
				switch {
				case e.Recovered:
					status = "recovered"
				case e.Aborted:
					status = "stopped"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
					e.StartedAt.Local().Format("2006-01-02 15:04"), e.SessionID, status, foreground.FormatClock(e.ElapsedSeconds))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to show")
	return cmd
}
