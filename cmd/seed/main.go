package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/appointment-booking/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinicIDs, err := seedClinics(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	if err := seedSlots(context.Background(), pool, clinicIDs, 14); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Clinic"
		city := gofakeit.City()

		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, city, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, city)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clinics seeded")
	return ids, nil
}

// seedSlots creates half-hour slots per clinic for the next days, 9:00 to
// 17:00 local clinic time.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, clinicIDs []uuid.UUID, days int) error {
	log.Printf("seeding slots for %d clinics over %d days", len(clinicIDs), days)

	const batchSize = 500
	inserted := 0

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	dayStart := time.Now().Truncate(24 * time.Hour).Add(24 * time.Hour)

	for _, clinicID := range clinicIDs {
		for d := 0; d < days; d++ {
			day := dayStart.AddDate(0, 0, d)
			for halfHour := 0; halfHour < 16; halfHour++ {
				start := day.Add(9*time.Hour + time.Duration(halfHour)*30*time.Minute)

				_, err := tx.Exec(ctx, `
					INSERT INTO slots (id, clinic_id, start_time, is_booked, created_at, updated_at)
					VALUES ($1, $2, $3, false, now(), now())
				`, uuid.New(), clinicID, start)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}

				inserted++
				if inserted%batchSize == 0 {
					if err := tx.Commit(ctx); err != nil {
						return err
					}
					log.Printf("slots seeded: %d", inserted)
					tx, err = pool.Begin(ctx)
					if err != nil {
						return err
					}
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Printf("slots seeded: %d total", inserted)
	return nil
}
