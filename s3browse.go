package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sgaunet/s3browse/pkg/config"
	"github.com/sgaunet/s3browse/pkg/dto"
	"github.com/sgaunet/s3browse/pkg/scheduler"
	"github.com/sgaunet/s3browse/pkg/session"
)

func main() {
	var err error
	var fileName string
	var cfg config.Config
	flag.StringVar(&fileName, "f", "", "Configuration file")
	flag.Parse()

	if fileName == "" {
		fmt.Fprintf(os.Stderr, "Configuration file not provided. Exit 1")
		fmt.Fprintf(os.Stderr, "\nUsage:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if cfg, err = config.ReadYamlRemotesFile(fileName); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading configuration file: %s\n", err.Error())
		os.Exit(1)
	}
	l := initTrace(cfg.LogLevel)

	registry := config.NewRegistry()
	registry.SetLogger(l)
	if registry.LoadProfiles(cfg.Remotes) == 0 {
		fmt.Fprintf(os.Stderr, "No usable remote profile in %s\n", fileName)
		os.Exit(1)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())
	SetupCloseHandler(ctx, cancelFunc, l)

	s := session.New(registry, session.WithMaxConcurrentTransfers(cfg.MaxConcurrentTransfers))
	s.SetLogger(l)

	sched := scheduler.NewScheduler(cfg, s.Tree())
	sched.SetLogger(l)
	if err = sched.Start(); err != nil {
		l.Error("error starting the refresh scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sched.Stop()

	if err = runShell(ctx, s, l); err != nil {
		l.Error("shell error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// runShell drives the session from stdin: one command per line against the
// active remote. It exists so the engine can be exercised without a GUI.
func runShell(ctx context.Context, s *session.Session, log *slog.Logger) error {
	remotes := s.Remotes()
	remote := remotes[0]
	prefix := ""
	fmt.Printf("remotes: %s (active: %s)\n", strings.Join(remotes, ", "), remote)

	events := s.Subscribe()
	defer s.Unsubscribe(events)
	go func() {
		for ev := range events {
			if ev.Kind == dto.ListingUpdated {
				log.Debug("listing updated",
					slog.String("remote", ev.Remote),
					slog.String("prefix", ev.Prefix))
			}
		}
	}()

	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			fmt.Print("> ")
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "quit", "exit":
			return nil
		case "remote":
			if len(args) == 1 {
				remote, prefix = args[0], ""
			}
			fmt.Println(remote)
		case "ls":
			snap, h, err := s.Browse(ctx, remote, prefix)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			if h != nil {
				if err = h.Wait(ctx); err != nil {
					fmt.Println("error:", err)
					break
				}
				snap, _ = s.GetCached(remote, prefix)
			}
			for _, e := range snap.Entries {
				if e.IsPrefix {
					fmt.Printf("%12s  %s\n", "<dir>", e.Name(prefix))
				} else {
					fmt.Printf("%12d  %s\n", e.Size, e.Name(prefix))
				}
			}
		case "cd":
			switch {
			case len(args) == 0 || args[0] == "/":
				prefix = ""
			case args[0] == "..":
				prefix = parentPrefix(prefix)
			default:
				prefix = prefix + strings.TrimSuffix(args[0], "/") + "/"
			}
			fmt.Println("/" + prefix)
		case "refresh":
			h, err := s.Refresh(ctx, remote, prefix)
			if err != nil {
				fmt.Println("error:", err)
				break
			}
			if err = h.Wait(ctx); err != nil {
				fmt.Println("error:", err)
			}
		case "get":
			if len(args) == 2 {
				waitTransfer(ctx, s, s.Download(remote, prefix+args[0], args[1]))
			}
		case "put":
			if len(args) == 2 {
				waitTransfer(ctx, s, s.Upload(remote, prefix+args[1], args[0]))
			}
		case "rm":
			if len(args) == 1 {
				waitTransfer(ctx, s, s.Delete(remote, prefix+args[0]))
			}
		case "rmdir":
			if len(args) == 1 {
				waitTransfer(ctx, s, s.DeleteFolder(remote, prefix+strings.TrimSuffix(args[0], "/")+"/"))
			}
		case "mkdir":
			if len(args) == 1 {
				folder := prefix + strings.TrimSuffix(args[0], "/") + "/"
				if err := s.CreateFolder(ctx, remote, folder); err != nil {
					fmt.Println("error:", err)
				}
			}
		case "jobs":
			for _, j := range s.Transfers() {
				fmt.Printf("%s  %-11s  %-10s  %d/%d  %s\n",
					j.ID[:8], j.Kind, j.State, j.BytesDone, j.BytesTotal, j.Key)
			}
		default:
			fmt.Println("commands: ls cd refresh get put rm rmdir mkdir jobs remote quit")
		}
		fmt.Print("> ")
	}
	return sc.Err()
}

func waitTransfer(ctx context.Context, s *session.Session, id string) {
	if err := s.WaitTransfer(ctx, id); err != nil {
		fmt.Println("error:", err)
		return
	}
	st, _ := s.TransferStatus(id)
	fmt.Printf("%s: %s\n", st.Kind, st.State)
	if st.Reason != "" {
		fmt.Println(" ", st.Reason)
	}
}

func parentPrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	i := strings.LastIndex(prefix, "/")
	if i < 0 {
		return ""
	}
	return prefix[:i+1]
}

func SetupCloseHandler(ctx context.Context, cancelFunc context.CancelFunc, log *slog.Logger) {
	c := make(chan os.Signal, 5)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		s := <-c
		log.Info("INFO: signal received", slog.String("signal", s.String()))
		cancelFunc()
	}()
}

// initTrace initializes the logger
func initTrace(debugLevel string) *slog.Logger {
	handlerOptions := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}

	switch debugLevel {
	case "debug":
		handlerOptions.Level = slog.LevelDebug
		handlerOptions.AddSource = true
	case "info":
		handlerOptions.Level = slog.LevelInfo
	case "warn":
		handlerOptions.Level = slog.LevelWarn
	case "error":
		handlerOptions.Level = slog.LevelError
	default:
		handlerOptions.Level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, handlerOptions)
	logger := slog.New(handler)
	return logger
}
