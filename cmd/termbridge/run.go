package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"termbridge/internal/console"
	"termbridge/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run <program.lua>",
	Short: "Run a program with the local terminal attached",
	Long: `Run a single Lua program in a worker process with this terminal wired to
the bridge: program output appears here, keystrokes reach the program.

Ctrl+C interrupts the program; Ctrl+] followed by q detaches and stops it.`,
	Args: cobra.ExactArgs(1),
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	source, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, err := session.NewExecLauncher(cfg)
	if err != nil {
		return err
	}
	store := session.NewStore(cfg, launcher)
	defer store.Close()

	sess, err := store.Create()
	if err != nil {
		return err
	}
	ch, err := sess.Attach(ctx)
	if err != nil {
		return err
	}
	defer sess.Detach()

	type result struct {
		reply session.Reply
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		reply, err := sess.Run(ctx, string(source))
		resCh <- result{reply, err}
	}()

	if err := console.New(ch).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	var res result
	select {
	case res = <-resCh:
	case <-time.After(500 * time.Millisecond):
		// The terminal detached while the program is still going. A
		// one-shot run has nowhere left to deliver I/O, so stop it.
		sess.Cancel()
		select {
		case res = <-resCh:
		case <-time.After(10 * time.Second):
			return errors.New("program did not stop after cancel")
		}
	}
	if res.err != nil {
		return res.err
	}
	printReply(res.reply)
	return nil
}

func printReply(r session.Reply) {
	switch r.Status {
	case session.StatusOK:
		fmt.Printf("Run completed in %dms\n", r.DurationMs)
	case session.StatusCancelled:
		fmt.Printf("Run cancelled after %dms\n", r.DurationMs)
	case session.StatusTimeout:
		fmt.Printf("Run timed out after %dms\n", r.DurationMs)
	default:
		fmt.Printf("Run failed after %dms: %s\n", r.DurationMs, r.Error)
	}
}
