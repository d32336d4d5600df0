// Command guardctl runs the operator-side management operations against the
// shared counter store: list locked identities, force an unlock, clear every
// counter, or show one identity's lockout counters.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/nazaninghn/carbon-guard/internal/app"
	"github.com/nazaninghn/carbon-guard/internal/config"
	"github.com/nazaninghn/carbon-guard/internal/core/services"
	"github.com/nazaninghn/carbon-guard/internal/logging"
)

const usage = `usage: guardctl [-timeout 10s] <command> [args]

commands:
  locked             list locked identities
  unlock <identity>  remove the lock and failed attempts (kind:value or bare value)
  status <identity>  show lockout counters
  clear              delete every counter and lock
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("guardctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	timeout := fs.Duration("timeout", 10*time.Second, "overall command timeout")
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	// Admin scans are slower than request-path calls.
	cfg.Storage.Timeout = *timeout

	logger := logging.New(cfg.Log.Level, stderr)
	engine, closeFn, err := app.Build(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stderr, "failed to connect: %v\n", err)
		return 1
	}
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	return dispatch(ctx, engine.Admin, fs.Args(), stdout, stderr)
}

func dispatch(ctx context.Context, admin *services.AdminService, args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "locked":
		locked, err := admin.ListLocked(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tIDENTITY\tSECONDS REMAINING")
		for _, l := range locked {
			fmt.Fprintf(tw, "%s\t%s\t%d\n", l.Identity.Kind, l.Identity.Value, l.SecondsRemaining)
		}
		_ = tw.Flush()
		return 0

	case "unlock":
		if len(args) != 2 {
			fmt.Fprint(stderr, usage)
			return 2
		}
		if err := admin.Unlock(ctx, args[1]); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "unlocked %s\n", args[1])
		return 0

	case "status":
		if len(args) != 2 {
			fmt.Fprint(stderr, usage)
			return 2
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KIND\tIDENTITY\tSTATE\tFAILED\tREMAINING\tLOCK SECONDS")
		for _, st := range admin.Status(ctx, args[1]) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\n",
				st.Identity.Kind, st.Identity.Value, st.State, st.FailedCount, st.AttemptsRemaining, st.LockSecondsRemaining)
		}
		_ = tw.Flush()
		return 0

	case "clear":
		n, err := admin.ClearAll(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintf(stdout, "cleared %d keys\n", n)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		fmt.Fprint(stderr, usage)
		return 2
	}
}
