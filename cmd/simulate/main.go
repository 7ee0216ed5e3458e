package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/lawyer-scheduling/internal/api"
	"github.com/hackgods/lawyer-scheduling/internal/availability"
	"github.com/hackgods/lawyer-scheduling/internal/config"
	"github.com/hackgods/lawyer-scheduling/internal/db"
	"github.com/hackgods/lawyer-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	RequestRatio  float64
	AcceptRatio   float64
	CancelRatio   float64
	ReadRatio     float64
	LawyerLimit   int
	Clients       int
	PostgresDSN   string
	SlotHorizon   time.Duration
	SlotDurations []int
}

// apptRef remembers who may act on an appointment the simulator created.
type apptRef struct {
	ID       uuid.UUID
	LawyerID string
	ClientID string
}

type DataPool struct {
	Lawyers      []string
	Clients      []string
	mu           sync.RWMutex
	appointments []apptRef
	slots        map[string][]time.Time
}

func (dp *DataPool) AddAppointment(ref apptRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (apptRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return apptRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) Slots(lawyerID string) ([]time.Time, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	s, ok := dp.slots[lawyerID]
	return s, ok
}

func (dp *DataPool) SetSlots(lawyerID string, slots []time.Time) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.slots[lawyerID] = slots
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Request     OperationMetrics
	Accept      OperationMetrics
	Cancel      OperationMetrics
	ReadByID    OperationMetrics
	ListByParty OperationMetrics
	Slots       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	log     *zap.Logger
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(baseCfg.Env, baseCfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("request", cfg.RequestRatio),
		zap.Float64("accept", cfg.AcceptRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	// Load lawyers from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	lawyers, err := availability.NewPgRepository(pgPool).ListLawyerIDs(ctx, cfg.LawyerLimit)
	if err != nil {
		log.Fatal("load lawyers", zap.Error(err))
	}
	if len(lawyers) == 0 {
		log.Fatal("no lawyers with availability, run the seed first")
	}

	dataPool := &DataPool{
		Lawyers: lawyers,
		Clients: make([]string, cfg.Clients),
		slots:   make(map[string][]time.Time),
	}
	for i := range dataPool.Clients {
		dataPool.Clients[i] = "sim_client_" + uuid.NewString()
	}

	log.Info("data pool loaded", zap.Int("lawyers", len(dataPool.Lawyers)), zap.Int("clients", len(dataPool.Clients)))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		log:    log,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig(baseCfg config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:    strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		RequestRatio:  getFloat("SIM_REQUEST_RATIO", 0.4),
		AcceptRatio:   getFloat("SIM_ACCEPT_RATIO", 0.25),
		CancelRatio:   getFloat("SIM_CANCEL_RATIO", 0.05),
		ReadRatio:     getFloat("SIM_READ_RATIO", 0.3),
		LawyerLimit:   getInt("SIM_LAWYER_LIMIT", 200),
		Clients:       getInt("SIM_CLIENTS", 500),
		PostgresDSN:   baseCfg.PostgresDSN,
		SlotHorizon:   getDuration("SIM_SLOT_HORIZON", 14*24*time.Hour),
		SlotDurations: []int{30, 60},
	}

	// Normalize ratios
	total := cfg.RequestRatio + cfg.AcceptRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.RequestRatio /= total
		cfg.AcceptRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Clients <= 0 {
		return fmt.Errorf("SIM_CLIENTS must be > 0")
	}
	return nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	acceptCut := s.config.RequestRatio + s.config.AcceptRatio
	cancelCut := acceptCut + s.config.CancelRatio

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.RequestRatio:
				s.doRequest(ctx, rng)
			case r < acceptCut:
				s.doAccept(ctx, rng)
			case r < cancelCut:
				s.doCancel(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByParty(ctx, rng)
				case 2:
					s.doSlots(ctx, rng)
				}
			}
		}
	}
}

// call sends one request as userID and decodes a 2xx body into out.
func (s *Simulator) call(ctx context.Context, method, path, userID string, body, out any) (int, time.Duration, error) {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, 0, err
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, payload)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(api.UserIDHeader, userID)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, latency, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, latency, err
		}
	}
	return resp.StatusCode, latency, nil
}

func (s *Simulator) fetchSlots(ctx context.Context, lawyerID string) ([]time.Time, int, time.Duration, error) {
	q := url.Values{}
	q.Set("from", time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	q.Set("to", time.Now().Add(s.config.SlotHorizon).UTC().Format(time.RFC3339))
	q.Set("duration", "30")

	var out api.SlotsResponse
	status, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/lawyers/%s/slots?%s", url.PathEscape(lawyerID), q.Encode()), "", nil, &out)
	return out.Slots, status, latency, err
}

func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand) {
	lawyerID := s.pool.Lawyers[rng.Intn(len(s.pool.Lawyers))]
	clientID := s.pool.Clients[rng.Intn(len(s.pool.Clients))]

	slots, ok := s.pool.Slots(lawyerID)
	if !ok {
		fetched, status, _, err := s.fetchSlots(ctx, lawyerID)
		if err != nil || status != http.StatusOK {
			return
		}
		s.pool.SetSlots(lawyerID, fetched)
		slots = fetched
	}
	if len(slots) == 0 {
		return
	}

	body := api.CreateAppointmentRequest{
		LawyerID: lawyerID,
		Date:     slots[rng.Intn(len(slots))],
		Duration: s.config.SlotDurations[rng.Intn(len(s.config.SlotDurations))],
		Type:     "VIDEO",
	}

	var created api.AppointmentResponse
	status, latency, err := s.call(ctx, http.MethodPost, "/appointments", clientID, body, &created)

	success := err == nil && status == http.StatusCreated
	if success && created.ID != uuid.Nil {
		s.pool.AddAppointment(apptRef{ID: created.ID, LawyerID: lawyerID, ClientID: clientID})
	}
	s.metrics.Request.Record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doAccept(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/%s/accept", ref.ID), ref.LawyerID, nil, nil)
	s.metrics.Accept.Record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	actor := ref.ClientID
	if rng.Intn(2) == 0 {
		actor = ref.LawyerID
	}

	status, latency, err := s.call(ctx, http.MethodPost,
		fmt.Sprintf("/appointments/%s/cancel", ref.ID), actor, nil, nil)
	// a closed cancellation window or a terminal appointment counts as a refusal
	refused := status == http.StatusConflict || status == http.StatusUnprocessableEntity
	s.metrics.Cancel.Record(latency, err == nil && status == http.StatusOK, refused)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	status, latency, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments/%s", ref.ID), ref.ClientID, nil, nil)
	s.metrics.ReadByID.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByParty(ctx context.Context, rng *rand.Rand) {
	var path, userID string
	if rng.Intn(2) == 0 {
		userID = s.pool.Clients[rng.Intn(len(s.pool.Clients))]
		path = fmt.Sprintf("/clients/%s/appointments?limit=20&offset=0", url.PathEscape(userID))
	} else {
		userID = s.pool.Lawyers[rng.Intn(len(s.pool.Lawyers))]
		path = fmt.Sprintf("/lawyers/%s/appointments?limit=20&offset=0", url.PathEscape(userID))
	}

	status, latency, err := s.call(ctx, http.MethodGet, path, userID, nil, nil)
	s.metrics.ListByParty.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	lawyerID := s.pool.Lawyers[rng.Intn(len(s.pool.Lawyers))]

	slots, status, latency, err := s.fetchSlots(ctx, lawyerID)
	success := err == nil && status == http.StatusOK
	if success {
		s.pool.SetSlots(lawyerID, slots)
	}
	s.metrics.Slots.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Request", &s.metrics.Request)
	printOperationReport("Accept", &s.metrics.Accept)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Party", &s.metrics.ListByParty)
	printOperationReport("Slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
