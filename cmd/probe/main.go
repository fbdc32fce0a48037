// Command probe checks a backend from the operator's side: it signs in,
// validates the session and fetches the first page of every list the
// console shows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/p2pconsole/internal/backend"
	"github.com/punchamoorthee/p2pconsole/internal/domain"
)

var (
	baseURL     string
	email       string
	password    string
	token       string
	concurrency int
	timeout     time.Duration
	output      string
)

func init() {
	flag.StringVar(&baseURL, "url", os.Getenv("API_BASE_URL"), "Backend API base URL")
	flag.StringVar(&email, "email", "", "Admin email")
	flag.StringVar(&password, "password", os.Getenv("PROBE_PASSWORD"), "Admin password")
	flag.StringVar(&token, "token", "", "Existing bearer token; skips login")
	flag.IntVar(&concurrency, "workers", 4, "Number of concurrent fetches")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "Per request timeout")
	flag.StringVar(&output, "out", "", "Also write the JSON summary to this file")
}

type fetchResult struct {
	List       string  `json:"list"`
	Status     string  `json:"status"`
	Records    int     `json:"records"`
	Total      int     `json:"total"`
	LastPage   int     `json:"last_page"`
	DurationMs float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

type summary struct {
	Admin                string        `json:"admin"`
	VerificationRequired bool          `json:"verification_required"`
	Stats                domain.Stats  `json:"stats"`
	Fetches              []fetchResult `json:"fetches"`
	Failures             int           `json:"failures"`
	DurationSec          float64       `json:"duration_sec"`
}

func main() {
	flag.Parse()
	if baseURL == "" {
		log.Fatal("-url or API_BASE_URL is required")
	}
	if token == "" && (email == "" || password == "") {
		log.Fatal("either -token or -email and -password are required")
	}

	client, err := backend.New(baseURL, timeout, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err != nil {
		log.Fatal(err)
	}

	start := time.Now()
	s, err := probe(context.Background(), client)
	if err != nil {
		log.Fatal(err)
	}
	s.DurationSec = time.Since(start).Seconds()

	if err := write(os.Stdout, s); err != nil {
		log.Fatal(err)
	}
	if output != "" {
		file, err := os.Create(output)
		if err != nil {
			log.Fatal(err)
		}
		defer file.Close()
		if err := write(file, s); err != nil {
			log.Fatal(err)
		}
	}
	if s.Failures > 0 {
		os.Exit(2)
	}
}

func probe(ctx context.Context, client *backend.Client) (*summary, error) {
	if token == "" {
		res, err := client.Login(ctx, email, password, "probe cli")
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		token = res.Token
		log.Printf("Logged in as %s", email)
	}

	v, err := client.Dashboard(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("validate session: %w", err)
	}
	s := &summary{
		Admin:                v.Principal.Admin.Username,
		VerificationRequired: v.VerificationRequired,
		Stats:                v.Principal.Stats,
	}
	if v.VerificationRequired {
		return s, nil
	}

	type job struct {
		list   string
		status domain.Status
		fetch  func(ctx context.Context, status domain.Status) (records, total, last int, err error)
	}
	var jobs []job
	for _, st := range domain.BidStatuses {
		jobs = append(jobs, job{"bids", st, func(ctx context.Context, st domain.Status) (int, int, int, error) {
			p, err := client.Bids(ctx, token, st, 1)
			if err != nil {
				return 0, 0, 0, err
			}
			return len(p.Items), p.Total, p.LastPage, nil
		}})
	}
	for _, st := range domain.AskStatuses {
		jobs = append(jobs, job{"asks", st, func(ctx context.Context, st domain.Status) (int, int, int, error) {
			p, err := client.Asks(ctx, token, st, 1)
			if err != nil {
				return 0, 0, 0, err
			}
			return len(p.Items), p.Total, p.LastPage, nil
		}})
	}
	for _, st := range domain.PeerStatuses {
		jobs = append(jobs, job{"peers", st, func(ctx context.Context, st domain.Status) (int, int, int, error) {
			p, err := client.Peers(ctx, token, st, 1)
			if err != nil {
				return 0, 0, 0, err
			}
			return len(p.Items), p.Total, p.LastPage, nil
		}})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for _, j := range jobs {
		g.Go(func() error {
			began := time.Now()
			n, total, last, err := j.fetch(gctx, j.status)
			r := fetchResult{
				List:       j.list,
				Status:     string(j.status),
				Records:    n,
				Total:      total,
				LastPage:   last,
				DurationMs: float64(time.Since(began).Microseconds()) / 1000,
			}
			if err != nil {
				r.Error = backend.Describe(err, err.Error())
			}
			mu.Lock()
			s.Fetches = append(s.Fetches, r)
			if err != nil {
				s.Failures++
			}
			mu.Unlock()
			// One failing list must not cancel the others.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(s.Fetches, func(i, k int) bool {
		if s.Fetches[i].List != s.Fetches[k].List {
			return s.Fetches[i].List < s.Fetches[k].List
		}
		return s.Fetches[i].Status < s.Fetches[k].Status
	})
	return s, nil
}

func write(w io.Writer, s *summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
