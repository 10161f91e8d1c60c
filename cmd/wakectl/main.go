// wakectl - terminal client for a SLOTH wake session
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/slothwake/sloth/internal/orchestrator"
)

// terminalDisplay presents messages on stdout; the locked-attention mode is
// a banner in a terminal.
type terminalDisplay struct {
	mu      sync.Mutex
	engaged bool
}

func (d *terminalDisplay) Show(text string) {
	fmt.Printf("\n  %s\n\n> ", strings.ReplaceAll(text, "\n", "\n  "))
}

func (d *terminalDisplay) Engage() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engaged {
		return
	}
	d.engaged = true
	fmt.Println("=== WAKE SESSION ACTIVE - answer to be released ===")
}

func (d *terminalDisplay) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.engaged = false
	fmt.Println("=== SESSION RELEASED ===")
}

// commandSink plays a clip by shelling out to PLAYER_COMMAND ({url}
// placeholder), e.g. "mpv --really-quiet {url}". Without one it just names
// the clip so the pacing still reads right.
type commandSink struct {
	base     string
	template string
}

func (s *commandSink) Play(ref string) error {
	url := s.base + ref
	if s.template == "" {
		fmt.Printf("[audio] %s\n", url)
		return nil
	}
	parts := strings.Fields(s.template)
	args := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		args = append(args, strings.ReplaceAll(p, "{url}", url))
	}
	return exec.Command(parts[0], args...).Run()
}

func main() {
	server := flag.String("server", "http://localhost:8080", "SLOTH server base URL")
	name := flag.String("name", "", "user name for message templates")
	alarm := flag.String("alarm", time.Now().Format("15:04"), "alarm time label")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	base := strings.TrimRight(*server, "/")
	display := &terminalDisplay{}
	sink := &commandSink{base: base, template: os.Getenv("PLAYER_COMMAND")}
	player := orchestrator.NewPlayer(sink, 800*time.Millisecond, 600*time.Millisecond)

	cfg := orchestrator.DefaultConfig()
	cfg.AlarmTime = *alarm
	cfg.UserName = *name
	cfg.CountdownDelay = time.Second

	o := orchestrator.New(newHTTPClient(base), nil, display, player, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Alarm ringing. Type your answer; prefix with \"say \" for the spoken phrase.")
	o.Begin(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			o.Gesture()
			continue
		}
		if spoken, ok := strings.CutPrefix(line, "say "); ok {
			o.Gesture()
			o.SubmitSpoken(spoken)
		} else {
			o.SubmitTyped(line)
		}
		if o.Released() {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	if o.Released() {
		fmt.Println("Good morning.")
	}
}
