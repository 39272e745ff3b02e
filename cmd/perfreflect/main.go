package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/unhabit/internal/protocol"
)

type options struct {
	baseURL        string
	userPrefix     string
	users          int
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	end            bool
	verbose        bool
}

type wsEnvelope struct {
	Type     string `json:"type"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Response string `json:"response,omitempty"`
}

type userReport struct {
	turns  []time.Duration
	ending time.Duration
	err    error
}

var defaultUtterances = []string{
	"I picked up my phone first thing this morning again.",
	"It mostly happens when I feel bored at work.",
	"Yesterday I managed an hour without checking anything.",
	"I think I want evenings to be screen free.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfreflect: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfreflect: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var interTurnMS int
	var turnTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8000", "unhabit base URL")
	flag.StringVar(&cfg.userPrefix, "user-prefix", "perf-reflect", "prefix for synthetic user ids")
	flag.IntVar(&cfg.users, "users", 1, "number of concurrent synthetic users")
	flag.IntVar(&cfg.turns, "turns", 4, "reflection turns per user")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between turns in milliseconds")
	flag.IntVar(&turnTimeoutMS, "turn-timeout-ms", 60000, "timeout waiting for each reply in milliseconds")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	flag.BoolVar(&cfg.end, "end", true, "end each session and time the pipeline")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print every reply")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.users <= 0 || cfg.turns <= 0 {
		return options{}, fmt.Errorf("users and turns must be > 0")
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.texts = splitTexts(textsRaw)
	if len(cfg.texts) == 0 {
		cfg.texts = append([]string(nil), defaultUtterances...)
	}
	return cfg, nil
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	reports := make([]userReport, cfg.users)
	var wg sync.WaitGroup
	for i := 0; i < cfg.users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("%s-%d-%d", cfg.userPrefix, time.Now().Unix(), i)
			reports[i] = replayUser(ctx, cfg, userID)
		}(i)
	}
	wg.Wait()

	var turns, endings []time.Duration
	failed := 0
	for i, r := range reports {
		if r.err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "perfreflect: user %d: %v\n", i, r.err)
		}
		turns = append(turns, r.turns...)
		if r.ending > 0 {
			endings = append(endings, r.ending)
		}
	}
	fmt.Printf("perfreflect: users=%d failed=%d\n", cfg.users, failed)
	printStats("turn", turns)
	printStats("end", endings)
	if failed > 0 {
		return fmt.Errorf("%d of %d users failed", failed, cfg.users)
	}
	return nil
}

func replayUser(ctx context.Context, cfg options, userID string) userReport {
	var report userReport
	wsURL, err := wsURLForUser(cfg.baseURL, userID)
	if err != nil {
		report.err = fmt.Errorf("build ws URL: %w", err)
		return report
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		report.err = fmt.Errorf("open websocket: %w", err)
		return report
	}
	defer conn.Close()

	if _, err := awaitType(conn, cfg.turnTimeout, string(protocol.TypeSystemEvent)); err != nil {
		report.err = fmt.Errorf("await connected: %w", err)
		return report
	}

	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		started := time.Now()
		if err := conn.WriteJSON(protocol.ReflectionMessage{Type: protocol.TypeReflectionMessage, Content: text, TSMs: started.UnixMilli()}); err != nil {
			report.err = fmt.Errorf("turn %d send: %w", i+1, err)
			return report
		}
		env, err := awaitType(conn, cfg.turnTimeout, string(protocol.TypeAssistantMessage))
		if err != nil {
			report.err = fmt.Errorf("turn %d: %w", i+1, err)
			return report
		}
		report.turns = append(report.turns, time.Since(started))
		if cfg.verbose {
			fmt.Printf("perfreflect: %s turn %d reply=%q\n", userID, i+1, env.Response)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if cfg.end {
		started := time.Now()
		if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionEnd}); err != nil {
			report.err = fmt.Errorf("send end: %w", err)
			return report
		}
		if _, err := awaitType(conn, cfg.turnTimeout, string(protocol.TypeReflectionEnded)); err != nil {
			report.err = fmt.Errorf("await end: %w", err)
			return report
		}
		report.ending = time.Since(started)
	}
	return report
}

// awaitType reads until a message of the wanted type arrives. An error_event fails the wait.
func awaitType(conn *websocket.Conn, timeout time.Duration, want string) (wsEnvelope, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return wsEnvelope{}, err
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case want:
			return env, nil
		case string(protocol.TypeErrorEvent):
			return env, fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
		}
	}
}

func wsURLForUser(baseURL, userID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/reflection/ws"
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printStats(label string, samples []time.Duration) {
	if len(samples) == 0 {
		fmt.Printf("perfreflect: %s samples=0\n", label)
		return
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	fmt.Printf("perfreflect: %s samples=%d p50=%s p95=%s max=%s\n", label, len(sorted),
		percentile(sorted, 0.50).Round(time.Millisecond),
		percentile(sorted, 0.95).Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond))
}
