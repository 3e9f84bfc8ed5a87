package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/lumic/docchat/api"
	"github.com/lumic/docchat/citation"
	"github.com/lumic/docchat/client"
	"github.com/lumic/docchat/config"
	"github.com/lumic/docchat/gateway"
	"github.com/lumic/docchat/relay"
	"github.com/lumic/docchat/session"
	"github.com/lumic/docchat/viewer"
)

// terminalWidth is the surface width, in columns, handed to the viewer for
// page scaling.
const terminalWidth = 100.0

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCmd(logger, os.Args[2:])
	case "chat":
		chatCmd(logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	port := flags.String("port", "", "listen port (overrides PORT)")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("configuration: %v", err)
	}
	if *port != "" {
		cfg.Port = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	relayClient := relay.NewClient(cfg.WebhookURL, logger)
	fetcher := gateway.NewFetcher(cfg.DownloadWebhookURL(), logger)
	server := api.New(cfg, relayClient, fetcher, logger)

	httpServer := &http.Server{Addr: cfg.Addr(), Handler: server}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Printf("server listening on http://localhost:%s", cfg.Port)
	logger.Printf("answer webhook: %s", cfg.WebhookURL)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server: %v", err)
	}
}

func chatCmd(logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	server := flags.String("server", "http://localhost:3000", "chat server base URL")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	apiClient := client.New(*server)
	if _, err := apiClient.Health(ctx); err != nil {
		logger.Printf("server not reachable at %s: %v", *server, err)
	} else {
		logger.Printf("connected to %s", *server)
	}

	ui := &terminalUI{out: os.Stdout}
	sess := session.New(apiClient, ui, logger)
	view := viewer.New(apiClient, ui, terminalWidth, logger)

	fmt.Println("Type a message, :open N to view source N of the last answer, :quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			// Empty input never reaches the relay.
		case line == ":quit" || line == ":q":
			return
		case strings.HasPrefix(line, ":open"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, ":open"))
			src, ok := findSource(sess, arg)
			if !ok {
				fmt.Println("no such source; answers list their sources as [1], [2], ...")
				break
			}
			runViewer(ctx, scanner, view, src, os.Stdout)
		default:
			if err := sess.Send(ctx, line); err != nil {
				logger.Printf("send failed: %v", err)
			}
		}
		fmt.Print("> ")
	}
	if err := scanner.Err(); err != nil {
		logger.Fatalf("read input: %v", err)
	}
}

// findSource resolves ":open N" against the most recent bot turn that
// carried citations.
func findSource(sess *session.Session, arg string) (citation.Source, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return citation.Source{}, false
	}

	transcript := sess.Transcript()
	for i := len(transcript) - 1; i >= 0; i-- {
		turn := transcript[i]
		if turn.Role == session.RoleBot && len(turn.Citations) > 0 {
			if n > len(turn.Citations) {
				return citation.Source{}, false
			}
			return turn.Citations[n-1], true
		}
	}
	return citation.Source{}, false
}

func runViewer(ctx context.Context, scanner *bufio.Scanner, view *viewer.Viewer, src citation.Source, out io.Writer) {
	if err := view.Open(ctx, src); err != nil {
		// Chunks were already shown; the page surface stays blank.
		return
	}
	defer view.Close()

	for {
		nav := view.NavState()
		fmt.Fprintf(out, "[page %d/%d]", view.CurrentPage(), view.TotalPages())
		if nav.PrevEnabled {
			fmt.Fprint(out, " p=prev")
		}
		if nav.NextEnabled {
			fmt.Fprint(out, " n=next")
		}
		fmt.Fprint(out, " d=download q=back > ")

		if !scanner.Scan() {
			return
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "n":
			view.ChangePage(1)
		case "p":
			view.ChangePage(-1)
		case "d":
			fmt.Fprintf(out, "%s (save as %s)\n", view.DownloadQuery(), view.SuggestedFilename())
		case "q":
			return
		}
	}
}

// terminalUI prints session and viewer output to the terminal. It implements
// both session.Listener and viewer.Surface.
type terminalUI struct {
	out io.Writer
}

func (u *terminalUI) TypingStarted() {
	fmt.Fprintln(u.out, "bot is typing...")
}

func (u *terminalUI) TypingStopped() {}

func (u *terminalUI) TurnAppended(turn session.Turn) {
	switch turn.Role {
	case session.RoleUser:
		fmt.Fprintf(u.out, "you: %s\n", turn.Text)
	case session.RoleBot:
		fmt.Fprintf(u.out, "bot: %s\n", turn.Text)
		for i, src := range turn.Citations {
			fmt.Fprintf(u.out, "  [%d] %s\n", i+1, src.DisplayName())
		}
	}
}

func (u *terminalUI) ShowChunks(title string, chunks []citation.Chunk) {
	fmt.Fprintf(u.out, "--- %s ---\n", title)
	for i, chunk := range chunks {
		if chunk.Lines != nil {
			fmt.Fprintf(u.out, "Passage %d (lines %d-%d)\n", i+1, chunk.Lines.From, chunk.Lines.To)
		} else {
			fmt.Fprintf(u.out, "Passage %d\n", i+1)
		}
		fmt.Fprintln(u.out, chunk.Preview(150))
	}
}

func (u *terminalUI) ShowPage(page viewer.RenderedPage) {
	fmt.Fprintf(u.out, "--- page %d (scale %.2f) ---\n", page.Number, page.Scale)
	fmt.Fprintln(u.out, strings.TrimSpace(page.Text))
}

func (u *terminalUI) Clear() {}

func printUsage() {
	fmt.Println("Usage: docchat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the chat relay and document proxy server")
	fmt.Println("  chat     Talk to a running server from the terminal")
}
