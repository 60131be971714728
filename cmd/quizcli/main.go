package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/mind-engage/mindengage-quiz/internal/attempt"
	"github.com/mind-engage/mindengage-quiz/internal/bank"
	"github.com/mind-engage/mindengage-quiz/internal/client"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/lib/slogcustom"
	"github.com/mind-engage/mindengage-quiz/internal/localstore"
	"github.com/mind-engage/mindengage-quiz/internal/resume"
	"github.com/mind-engage/mindengage-quiz/internal/session"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	server := pflag.String("server", "http://localhost:8080", "quiz server base URL")
	user := pflag.String("user", "", "username")
	password := pflag.String("password", "", "password (dev servers accept the username)")
	topic := pflag.String("topic", "", "quiz topic")
	difficulty := pflag.String("difficulty", "", "quiz difficulty")
	bankDir := pflag.String("bank", "banks", "directory of quiz YAML files")
	stateDir := pflag.String("state-dir", ".quiz-state", "directory for the local progress cache")
	redisAddr := pflag.String("redis-addr", "", "keep the local progress cache in redis instead of files")
	fresh := pflag.Bool("fresh", false, "abandon any cached attempt and start a new quiz")
	logLevel := pflag.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	pflag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, "load env file:", err)
		os.Exit(1)
	}
	level := *logLevel
	if level == "" {
		level = config.FromEnv().LogLevel
	}
	log := slog.New(slogcustom.NewCustomHandler(os.Stderr, slogcustom.ParseLevel(level)))
	slog.SetDefault(log)

	if *user == "" || *topic == "" {
		fmt.Fprintln(os.Stderr, "--user and --topic are required")
		pflag.Usage()
		os.Exit(2)
	}
	if *password == "" {
		*password = *user
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, closeKV, err := openKV(ctx, *stateDir, *redisAddr)
	if err != nil {
		log.Error("local cache", "err", err)
		os.Exit(1)
	}
	defer closeKV()

	questions, err := bank.Load(*bankDir)
	if err != nil {
		log.Error("load quiz bank", "dir", *bankDir, "err", err)
		os.Exit(1)
	}

	c := client.New(*server, nil)
	if _, err := c.Login(ctx, *user, *password); err != nil {
		log.Error("login failed", "user", *user, "err", err)
		os.Exit(1)
	}

	local := localstore.New(kv, *user, nil)
	out := color.Output
	done := make(chan session.Result, 1)
	l := &attempt.Launcher{
		Backend:   c,
		Questions: questions,
		Resolver:  resume.New(local, c, nil, log),
		Options: attempt.Options{
			Local:      local,
			Logger:     log,
			Notify:     func(msg string) { color.New(color.FgYellow, color.Bold).Fprintln(out, msg) },
			OnComplete: func(res session.Result) { done <- res },
		},
	}

	ctl, src, err := l.Open(ctx, *user, *topic, *difficulty, *fresh)
	if err != nil {
		log.Error("open quiz", "topic", *topic, "err", err)
		os.Exit(1)
	}
	ctl.Start(ctx)
	defer ctl.Stop()

	s := ctl.Session()
	color.New(color.FgCyan, color.Bold).Fprintf(out, "%s (%d questions, %s)\n", s.Title, len(s.Questions), describe(src))
	help(out)
	show(out, ctl)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "interrupted; progress is cached, rerun to resume")
			return
		case res := <-done:
			printResult(out, res, len(s.Questions))
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handle(ctx, out, ctl, line); quit {
				fmt.Fprintln(out, "progress is cached, rerun to resume")
				return
			}
		}
	}
}

func openKV(ctx context.Context, dir, redisAddr string) (localstore.KV, func(), error) {
	if redisAddr != "" {
		kv := localstore.NewRedisKV(redisAddr, os.Getenv("REDIS_PASSWORD"), 0, localstore.ProgressTTL)
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", redisAddr, err)
		}
		return kv, func() { _ = kv.Close() }, nil
	}
	kv, err := localstore.NewFileKV(dir)
	if err != nil {
		return nil, nil, err
	}
	return kv, func() {}, nil
}

func describe(src resume.Source) string {
	switch src {
	case resume.SourceLocal:
		return "resumed from local cache"
	case resume.SourceServer:
		return "resumed from server"
	default:
		return "new attempt"
	}
}

func help(w io.Writer) {
	fmt.Fprintln(w, "commands: answer <option#> | goto <question#> | show | time | submit | quit")
}

func handle(ctx context.Context, w io.Writer, ctl *attempt.Controller, line string) (quit bool) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false
	}
	_, current := ctl.Answers()
	switch f[0] {
	case "answer", "a":
		n, ok := argInt(w, f)
		if !ok {
			return false
		}
		opts := ctl.Session().Options[current]
		if n < 1 || n > len(opts) {
			fmt.Fprintf(w, "option must be 1..%d\n", len(opts))
			return false
		}
		if err := ctl.Answer(ctx, current, opts[n-1]); err != nil {
			fmt.Fprintln(w, "answer:", err)
			return false
		}
		if current+1 < len(ctl.Session().Questions) {
			_ = ctl.Navigate(ctx, current+1)
		}
		show(w, ctl)
	case "goto", "g":
		n, ok := argInt(w, f)
		if !ok {
			return false
		}
		if err := ctl.Navigate(ctx, n-1); err != nil {
			fmt.Fprintln(w, "goto:", err)
			return false
		}
		show(w, ctl)
	case "show", "s":
		show(w, ctl)
	case "time", "t":
		fmt.Fprintln(w, "time left:", clockFace(ctl.Remaining()))
	case "submit":
		// the result reaches the main loop through OnComplete
		if _, err := ctl.Submit(ctx); err != nil {
			fmt.Fprintln(w, "submit:", err)
		}
	case "quit", "q":
		return true
	default:
		help(w)
	}
	return false
}

func argInt(w io.Writer, f []string) (int, bool) {
	if len(f) < 2 {
		fmt.Fprintf(w, "usage: %s <number>\n", f[0])
		return 0, false
	}
	n, err := strconv.Atoi(f[1])
	if err != nil {
		fmt.Fprintf(w, "%q is not a number\n", f[1])
		return 0, false
	}
	return n, true
}

func show(w io.Writer, ctl *attempt.Controller) {
	s := ctl.Session()
	answers, current := ctl.Answers()
	if len(s.Questions) == 0 {
		return
	}
	fmt.Fprintf(w, "\n[%s] Q%d/%d: %s\n", clockFace(ctl.Remaining()), current+1, len(s.Questions), s.Questions[current])
	for i, opt := range s.Options[current] {
		mark := " "
		if a := answers[current]; a != nil && *a == opt {
			mark = "*"
		}
		fmt.Fprintf(w, " %s %d) %s\n", mark, i+1, opt)
	}
}

func printResult(w io.Writer, res session.Result, total int) {
	color.New(color.FgGreen, color.Bold).Fprintf(w, "score %d/%d in %s\n", res.Score, total, time.Duration(res.TimeTaken)*time.Second)
}

// clockFace renders seconds as MM:SS.
func clockFace(sec int) string {
	return fmt.Sprintf("%02d:%02d", sec/60, sec%60)
}
