package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/attendance"
	"rollcall/internal/clock"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/store"
	"rollcall/internal/sweeper"
	"rollcall/internal/window"
)

// Worker runs the reconciliation sweeper on its tick interval and drains
// the absence-notification queue the sweeper feeds.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:absences")
	}

	windows := window.NewRepository(db.Client)
	subjects := roster.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)

	sw := sweeper.New(windows, subjects, records, clock.Real(),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithBatchSize(cfg.SweepBatchSize),
		sweeper.WithPublisher(q),
	)

	// Catch up on anything that expired while the worker was down, then
	// settle into the periodic loop.
	if sum, err := sw.RunOnce(ctx); err != nil {
		log.Printf("startup sweep failed: %v", err)
	} else if sum.WindowsScanned > 0 {
		log.Printf("startup sweep: closed=%d absences=%d failures=%d", sum.WindowsClosed, sum.AbsencesInserted, sum.Failures)
	}
	sw.Start(ctx)
	defer sw.Stop()

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Printf("worker started, sweeping every %s", cfg.SweepInterval)
	for msg := range messages {
		if msg.Type != queue.TypeAbsence {
			continue
		}
		notice, err := queue.DecodeAbsence(msg.Body)
		if err != nil {
			log.Printf("bad absence notice: %v", err)
			continue
		}
		// Delivery is a log line for now; the campus notifier polls these.
		log.Printf("absence recorded: subject=%s window=%q at=%s", notice.SubjectHandle, notice.WindowName, notice.RecordedAt.Format("2006-01-02 15:04"))
	}

	log.Println("worker stopped")
}
