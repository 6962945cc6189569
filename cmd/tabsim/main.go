// Command tabsim opens many session engines on one shared Redis-backed
// storage and measures how fast a login or logout in one tab reaches all the
// others.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/NguyenMinh4869/toystory"
	"github.com/NguyenMinh4869/toystory/account"
	"github.com/NguyenMinh4869/toystory/account/accounttest"
	"github.com/NguyenMinh4869/toystory/session"
)

const (
	demoEmail    = "admin@toystory.vn"
	demoPassword = "woody-and-buzz"
)

func main() {
	_ = godotenv.Load()

	var (
		tabs      = flag.Int("tabs", 16, "number of simulated tabs")
		rounds    = flag.Int("rounds", 50, "login/logout rounds")
		timeout   = flag.Duration("timeout", 5*time.Second, "max wait for every tab to converge")
		redisAddr = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix    = flag.String("prefix", "tabsim", "storage key prefix")
		baseURL   = flag.String("account-url", "", "account service base URL; if empty, ACCOUNT_BASE_URL env or an in-process fake is used")
		email     = flag.String("email", demoEmail, "login email")
		password  = flag.String("password", demoPassword, "login password")
	)
	flag.Parse()

	if *tabs < 2 || *rounds <= 0 || *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "tabs must be >= 2, rounds and timeout must be > 0")
		os.Exit(2)
	}

	client, cleanupRedis, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanupRedis()

	accounts, cleanupAccounts, err := openAccounts(*baseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "account service: %v\n", err)
		os.Exit(1)
	}
	defer cleanupAccounts()

	ctx := context.Background()
	if err := client.Del(ctx, sessionKeys(*prefix)...).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "reset storage: %v\n", err)
		os.Exit(1)
	}

	engines := make([]*toystory.Engine, *tabs)
	for i := range engines {
		store := session.NewRedisStore(client, *prefix, fmt.Sprintf("tab-%d", i))
		engines[i], err = toystory.New().
			WithStorage(store).
			WithAccountService(accounts).
			WithLogger(log.New(os.Stderr, fmt.Sprintf("[tab-%d] ", i), log.LstdFlags)).
			WithMetricsEnabled(true).
			Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "build tab %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()
	fmt.Printf("opened %d tabs\n", *tabs)

	creds := toystory.Credentials{Email: *email, Password: *password}
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	var loginSamples, logoutSamples []time.Duration
	var failures int
	for round := 0; round < *rounds; round++ {
		actor := engines[r.Intn(len(engines))]

		start := time.Now()
		if _, err := actor.Login(ctx, creds); err != nil {
			fmt.Fprintf(os.Stderr, "round %d: login on %s: %v\n", round, actor.TabID(), err)
			failures++
			continue
		}
		if d, ok := converge(engines, *timeout, start, authenticated); ok {
			loginSamples = append(loginSamples, d)
		} else {
			failures++
		}

		actor = engines[r.Intn(len(engines))]
		start = time.Now()
		actor.Logout(ctx)
		if d, ok := converge(engines, *timeout, start, loggedOut); ok {
			logoutSamples = append(logoutSamples, d)
		} else {
			failures++
		}
	}

	var crossTab uint64
	for _, e := range engines {
		crossTab += e.MetricsSnapshot().Counters[toystory.MetricCrossTabRefresh]
	}

	fmt.Println("---- results ----")
	printStats("login", computeStats(loginSamples))
	printStats("logout", computeStats(logoutSamples))
	fmt.Printf("failures=%d cross_tab_refreshes=%d\n", failures, crossTab)
	if failures > 0 {
		os.Exit(1)
	}
}

func authenticated(s toystory.SessionSnapshot) bool {
	return s.IsAuthenticated && s.User != nil
}

func loggedOut(s toystory.SessionSnapshot) bool {
	return !s.IsAuthenticated && s.User == nil && s.Role == ""
}

// converge waits until every engine satisfies done, using Subscribe to wake
// up instead of polling in a tight loop.
func converge(engines []*toystory.Engine, timeout time.Duration, start time.Time, done func(toystory.SessionSnapshot) bool) (time.Duration, bool) {
	wake := make(chan struct{}, 1)
	unsubs := make([]func(), 0, len(engines))
	for _, e := range engines {
		unsubs = append(unsubs, e.Subscribe(func(toystory.SessionSnapshot) {
			select {
			case wake <- struct{}{}:
			default:
			}
		}))
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		all := true
		for _, e := range engines {
			if !done(e.Snapshot()) {
				all = false
				break
			}
		}
		if all {
			return time.Since(start), true
		}
		select {
		case <-wake:
		case <-time.After(10 * time.Millisecond):
		case <-deadline.C:
			fmt.Fprintf(os.Stderr, "tabs did not converge within %s\n", timeout)
			return 0, false
		}
	}
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func openAccounts(baseURL string) (*account.Client, func(), error) {
	if baseURL == "" {
		baseURL = os.Getenv("ACCOUNT_BASE_URL")
	}
	cleanup := func() {}
	if baseURL == "" {
		fake, err := accounttest.NewServer(accounttest.Account{
			ID:       1,
			Email:    demoEmail,
			Password: demoPassword,
			Name:     "Andy",
			Role:     "Admin",
		})
		if err != nil {
			return nil, nil, err
		}
		baseURL = fake.URL()
		cleanup = fake.Close
		fmt.Printf("using in-process account service at %s\n", baseURL)
	}

	client, err := account.New(account.Config{BaseURL: baseURL})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return client, cleanup, nil
}

func sessionKeys(prefix string) []string {
	out := make([]string, 0, len(session.Keys))
	for _, k := range session.Keys {
		out = append(out, prefix+":"+k)
	}
	return out
}

type phaseStats struct {
	samples int
	p50     time.Duration
	p95     time.Duration
	p99     time.Duration
	max     time.Duration
}

func computeStats(samples []time.Duration) phaseStats {
	if len(samples) == 0 {
		return phaseStats{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return phaseStats{
		samples: len(sorted),
		p50:     percentile(sorted, 50),
		p95:     percentile(sorted, 95),
		p99:     percentile(sorted, 99),
		max:     sorted[len(sorted)-1],
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s convergence: samples=%d p50=%s p95=%s p99=%s max=%s\n",
		name,
		s.samples,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
		s.max.Round(time.Microsecond),
	)
}
