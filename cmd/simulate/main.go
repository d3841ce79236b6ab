package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/appointment-booking/internal/config"
	"github.com/medibook/appointment-booking/internal/db"
)

// The simulator fires concurrent booking attempts at a small set of open
// slots and then audits the database: every booked slot must carry exactly
// one non-cancelled appointment.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	CancelRatio float64
	SlotLimit   int
	PostgresDSN string
}

type Counters struct {
	Booked    int64
	Conflicts int64
	Declined  int64
	Cancels   int64
	Errors    int64
}

type Simulator struct {
	config   SimConfig
	slots    []uuid.UUID
	client   *http.Client
	counters Counters

	mu       sync.Mutex
	bookings []uuid.UUID // appointment ids created during the run
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	slots, err := loadOpenSlots(ctx, pgPool, cfg.SlotLimit)
	if err != nil {
		log.Fatalf("load open slots: %v", err)
	}
	if len(slots) == 0 {
		log.Fatal("no open slots to book; run cmd/seed first")
	}
	log.Printf("loaded %d open slots", len(slots))

	sim := &Simulator{
		config: cfg,
		slots:  slots,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	if err := auditSlots(context.Background(), pgPool); err != nil {
		log.Fatalf("audit failed: %v", err)
	}
	log.Println("audit passed: every booked slot has exactly one active appointment")
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.2),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 200),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

func loadOpenSlots(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `
		SELECT id FROM slots WHERE is_booked = false LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	var slots []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		slots = append(slots, id)
	}
	return slots, rows.Err()
}

func (s *Simulator) Run() {
	log.Printf("running: duration=%s workers=%d cancel_ratio=%.2f",
		s.config.Duration, s.config.Workers, s.config.CancelRatio)

	deadline := time.Now().Add(s.config.Duration)
	var wg sync.WaitGroup

	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))

			for time.Now().Before(deadline) {
				if rng.Float64() < s.config.CancelRatio {
					s.tryCancel(rng)
				} else {
					s.tryBook(rng)
				}
			}
		}(i)
	}

	wg.Wait()
}

func (s *Simulator) tryBook(rng *rand.Rand) {
	slotID := s.slots[rng.Intn(len(s.slots))]

	types := []string{"CONSULTATION", "LAB_TEST", "VACCINATION", "FOLLOW_UP"}
	methods := map[string][]string{
		"CONSULTATION": {"ONLINE", "PHYSICAL", "INSURANCE", "PENDING"},
		"LAB_TEST":     {"ONLINE", "INSURANCE"},
		"VACCINATION":  {"ONLINE", "PHYSICAL", "PENDING"},
		"FOLLOW_UP":    {"PHYSICAL", "PENDING"},
	}
	apptType := types[rng.Intn(len(types))]
	method := methods[apptType][rng.Intn(len(methods[apptType]))]

	body, _ := json.Marshal(map[string]any{
		"request_id":     uuid.NewString(),
		"user_id":        uuid.NewString(),
		"slot_id":        slotID.String(),
		"type":           apptType,
		"title":          "Simulated visit",
		"payment_method": method,
	})

	resp, err := s.client.Post(s.config.APIBaseURL+"/bookings", "application/json", bytes.NewReader(body))
	if err != nil {
		atomic.AddInt64(&s.counters.Errors, 1)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		var parsed struct {
			AppointmentID uuid.UUID `json:"appointment_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil {
			s.mu.Lock()
			s.bookings = append(s.bookings, parsed.AppointmentID)
			s.mu.Unlock()
		}
		atomic.AddInt64(&s.counters.Booked, 1)
	case http.StatusConflict:
		atomic.AddInt64(&s.counters.Conflicts, 1)
	case http.StatusPaymentRequired:
		atomic.AddInt64(&s.counters.Declined, 1)
	default:
		io.Copy(io.Discard, resp.Body)
		atomic.AddInt64(&s.counters.Errors, 1)
	}
}

func (s *Simulator) tryCancel(rng *rand.Rand) {
	s.mu.Lock()
	if len(s.bookings) == 0 {
		s.mu.Unlock()
		return
	}
	apptID := s.bookings[rng.Intn(len(s.bookings))]
	s.mu.Unlock()

	url := fmt.Sprintf("%s/bookings/%s/cancel", s.config.APIBaseURL, apptID)
	resp, err := s.client.Post(url, "application/json", nil)
	if err != nil {
		atomic.AddInt64(&s.counters.Errors, 1)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		atomic.AddInt64(&s.counters.Cancels, 1)
	case http.StatusConflict:
		// already cancelled by another worker, expected
	default:
		atomic.AddInt64(&s.counters.Errors, 1)
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("=== simulation report ===")
	fmt.Printf("booked:    %d\n", s.counters.Booked)
	fmt.Printf("conflicts: %d\n", s.counters.Conflicts)
	fmt.Printf("declined:  %d\n", s.counters.Declined)
	fmt.Printf("cancels:   %d\n", s.counters.Cancels)
	fmt.Printf("errors:    %d\n", s.counters.Errors)
}

// auditSlots verifies the booking invariant directly against Postgres.
func auditSlots(ctx context.Context, pool *pgxpool.Pool) error {
	auditCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	row := pool.QueryRow(auditCtx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM appointments
			WHERE status != 'cancelled'
			GROUP BY slot_id
			HAVING count(*) > 1
		) AS doubles
	`)

	var doubles int
	if err := row.Scan(&doubles); err != nil {
		return fmt.Errorf("count double bookings: %w", err)
	}
	if doubles > 0 {
		return fmt.Errorf("%d slots have more than one active appointment", doubles)
	}
	return nil
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
