package main

import (
	"bytes"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	flag "github.com/spf13/pflag"

	"pairchat/internal/logging"
	"pairchat/internal/models"
)

// session is one simulated user with its own cookie jar.
type session struct {
	profile        models.PublicProfile
	client         *http.Client
	conversationID string
	partner        *session
}

type OperationType int

const (
	WriteOperation OperationType = iota
	ReadOperation
)

type Stats struct {
	sync.Mutex
	totalRequests   int64
	successRequests int64
	failedRequests  int64
	writeLatencies  []time.Duration
	readLatencies   []time.Duration
}

func (s *Stats) recordSuccess(latency time.Duration, opType OperationType) {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.successRequests++
	switch opType {
	case WriteOperation:
		s.writeLatencies = append(s.writeLatencies, latency)
	case ReadOperation:
		s.readLatencies = append(s.readLatencies, latency)
	}
}

func (s *Stats) recordError() {
	s.Lock()
	defer s.Unlock()
	s.totalRequests++
	s.failedRequests++
}

// percentile returns the p-th percentile (0..1) of latencies.
func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type runner struct {
	baseURL string
	stats   *Stats
}

func (r *runner) do(c *http.Client, method, path string, body, out interface{}) (int, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, r.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (r *runner) signup(id int, runID string) (*session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	s := &session{client: &http.Client{Jar: jar, Timeout: 5 * time.Second}}

	var resp models.AuthResponse
	status, err := r.do(s.client, http.MethodPost, "/api/auth/signup", map[string]string{
		"fullName": fmt.Sprintf("Load Test User %d", id),
		"email":    fmt.Sprintf("loadtest_%s_%d@example.com", runID, id),
		"password": "testpass123",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("signup failed with status: %d", status)
	}
	s.profile = resp.User
	return s, nil
}

// open sends the first message to s.partner with the "new" sentinel and
// remembers the resulting conversation.
func (r *runner) open(s *session) error {
	var msg models.MessageView
	status, err := r.do(s.client, http.MethodPost, "/api/messages", map[string]string{
		"conversationId": models.NewConversationSentinel,
		"receiverId":     s.partner.profile.ID,
		"message":        "Hello from " + s.profile.FullName,
	}, &msg)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("opening conversation failed with status: %d", status)
	}
	s.conversationID = msg.ConversationID
	return nil
}

func (r *runner) simulate(s *session, rate float64, duration time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	end := time.Now().Add(duration)

	for time.Now().Before(end) {
		<-ticker.C

		opType := ReadOperation
		method, path := http.MethodGet, "/api/messages/"+s.conversationID
		var body interface{}
		if rand.Float32() < 0.5 {
			opType = WriteOperation
			method, path = http.MethodPost, "/api/messages"
			body = map[string]string{
				"conversationId": s.conversationID,
				"message":        fmt.Sprintf("Test message at %s", time.Now().Format(time.RFC3339Nano)),
			}
		}

		start := time.Now()
		status, err := r.do(s.client, method, path, body, nil)
		latency := time.Since(start)

		switch {
		case err != nil:
			r.stats.recordError()
			logging.Debug().Err(err).Str("path", path).Msg("Request failed")
		case status >= http.StatusBadRequest:
			r.stats.recordError()
			logging.Debug().Int("status", status).Str("path", path).Msg("Error response")
		default:
			r.stats.recordSuccess(latency, opType)
		}
	}
}

func main() {
	baseURL := flag.String("base-url", "http://localhost:3000", "Server base URL")
	numUsers := flag.Int("users", 100, "Number of simulated users (rounded down to even)")
	duration := flag.Duration("duration", time.Minute, "Simulation length")
	rate := flag.Float64("rate", 1, "Requests per second per user")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console"})
	logger := logging.WithComponent("loadtest")

	if *numUsers < 2 || *rate <= 0 {
		logger.Fatal().Msg("Need at least 2 users and a positive rate")
	}

	logger.Info().
		Int("users", *numUsers).
		Float64("rate", *rate).
		Dur("duration", *duration).
		Msg("Starting load test; run the server with --loadtest to use a separate database")

	r := &runner{baseURL: *baseURL, stats: &Stats{}}
	runID := models.NewID()[:8]

	sessions := make([]*session, *numUsers)
	var wg sync.WaitGroup
	var failed sync.Map
	startTime := time.Now()
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.signup(i, runID)
			if err != nil {
				failed.Store(i, err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	var ready []*session
	for _, s := range sessions {
		if s != nil {
			ready = append(ready, s)
		}
	}
	failed.Range(func(key, value interface{}) bool {
		logger.Warn().Interface("user", key).Interface("error", value).Msg("Signup failed")
		return true
	})
	logger.Info().
		Int("registered", len(ready)).
		Dur("elapsed", time.Since(startTime)).
		Msg("User registration completed")

	// Pair users off; both sides of a pair open the same conversation,
	// which also exercises concurrent find-or-create.
	if len(ready)%2 == 1 {
		ready = ready[:len(ready)-1]
	}
	for i := 0; i < len(ready); i += 2 {
		ready[i].partner, ready[i+1].partner = ready[i+1], ready[i]
	}

	var active []*session
	var mu sync.Mutex
	for _, s := range ready {
		wg.Add(1)
		go func(s *session) {
			defer wg.Done()
			if err := r.open(s); err != nil {
				logger.Warn().Err(err).Str("user_id", s.profile.ID).Msg("Failed to open conversation")
				return
			}
			mu.Lock()
			active = append(active, s)
			mu.Unlock()
		}(s)
	}
	wg.Wait()

	logger.Info().Int("sessions", len(active)).Msg("Simulating traffic")
	simStart := time.Now()
	for _, s := range active {
		wg.Add(1)
		go r.simulate(s, *rate, *duration, &wg)
	}
	wg.Wait()
	elapsed := time.Since(simStart)

	st := r.stats
	st.Lock()
	defer st.Unlock()
	logger.Info().
		Int64("total", st.totalRequests).
		Int64("success", st.successRequests).
		Int64("failed", st.failedRequests).
		Float64("rps", float64(st.totalRequests)/elapsed.Seconds()).
		Dur("write_p50", percentile(st.writeLatencies, 0.50)).
		Dur("write_p99", percentile(st.writeLatencies, 0.99)).
		Dur("read_p50", percentile(st.readLatencies, 0.50)).
		Dur("read_p99", percentile(st.readLatencies, 0.99)).
		Msg("Load test completed")
}
