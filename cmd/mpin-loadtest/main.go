package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goMPin "github.com/MrEthical07/goMPin"
	"github.com/MrEthical07/goMPin/mpintest"
	"github.com/MrEthical07/goMPin/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type userState struct {
	user *goMPin.User
	pin  string
	mu   sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 200, "number of identities to register")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "authentications to run")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "mpin-loadtest", "storage key prefix")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	backend := mpintest.NewServer(mpintest.DefaultOptions())
	defer backend.Close()

	crypto, err := mpintest.NewCryptoWithStorage(ctx, storage.NewRedis(client, *prefix, storage.Secure, 0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tokens: %v\n", err)
		os.Exit(1)
	}

	cfg := goMPin.DefaultConfig()
	cfg.Backend = backend.URL
	cfg.Metrics.EnableLatencyHistograms = true
	engine, err := goMPin.New().
		WithConfig(cfg).
		WithCrypto(crypto).
		WithStorage(storage.NewRedis(client, *prefix, storage.NonSecure, 0)).
		Build(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]*userState, *users)
	for i := range states {
		states[i] = &userState{
			user: engine.MakeNewUser(fmt.Sprintf("user-%d@loadtest.example", i), "loadtest"),
			pin:  fmt.Sprintf("%04d", i%10000),
		}
	}

	registerStats := runRegisterPhase(ctx, engine, states, *concurrency)
	authStats := runAuthenticatePhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("register", registerStats)
	printStats("authenticate", authStats)

	snap := engine.MetricsSnapshot()
	fmt.Printf("permits: cache=%d store=%d authority=%d\n",
		snap.Counters[goMPin.MetricTimePermitCacheHit],
		snap.Counters[goMPin.MetricTimePermitStoreHit],
		snap.Counters[goMPin.MetricTimePermitAuthority],
	)
}

func register(ctx context.Context, engine *goMPin.Engine, s *userState) error {
	if err := engine.StartRegistration(ctx, s.user, goMPin.RegistrationRequest{}); err != nil {
		return err
	}
	sess, err := engine.ConfirmRegistration(ctx, s.user, "")
	if err != nil {
		return err
	}
	return engine.FinishRegistration(ctx, s.user, sess, []byte(s.pin))
}

func authenticate(ctx context.Context, engine *goMPin.Engine, s *userState) error {
	sess, err := engine.StartAuthentication(ctx, s.user, "")
	if err != nil {
		return err
	}
	_, err = engine.FinishAuthentication(ctx, s.user, sess, []byte(s.pin))
	return err
}

func runRegisterPhase(ctx context.Context, engine *goMPin.Engine, states []*userState, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, len(states))
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= len(states) {
					return
				}
				t0 := time.Now()
				err := register(ctx, engine, states[i])
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runAuthenticatePhase(ctx context.Context, engine *goMPin.Engine, states []*userState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := states[r.Intn(len(states))]

				// One authentication per identity at a time; the backend
				// counts failed attempts per identity.
				state.mu.Lock()
				t0 := time.Now()
				err := authenticate(ctx, engine, state)
				d := time.Since(t0)
				state.mu.Unlock()
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
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
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
