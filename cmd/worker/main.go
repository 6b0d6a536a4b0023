package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"daycare/internal/attendance"
	"daycare/internal/config"
	"daycare/internal/hours"
	"daycare/internal/queue"
	"daycare/internal/store"
)

// Worker replays program-hours recordings for checkouts whose synchronous
// recording failed. A checkout is already committed by the time its event
// lands here; this path only affects billing/compliance reporting.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
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
		q = queue.NewRedisQueue(redisClient.Client, "daycare:checkouts")
	}

	repo := attendance.NewRepository(db.Client)
	recorder := hours.New(cfg.HoursServiceURL, cfg.HoursSkip)

	if !cfg.HoursSkip {
		if err := recorder.Health(ctx); err != nil {
			log.Printf("WARNING: program hours service not available: %v", err)
			log.Println("Worker will retry recording when events arrive")
		} else {
			log.Println("Program hours service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "checkout" {
			continue
		}

		var evt queue.CheckoutEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad checkout event: %v", err)
			continue
		}
		log.Printf("replaying program hours for session %s", evt.AttendanceID)

		sess, err := repo.GetSession(ctx, evt.OrgID, evt.AttendanceID)
		if err != nil {
			log.Printf("fetch session %s failed: %v", evt.AttendanceID, err)
			continue
		}
		if sess == nil || sess.CheckInTime == nil || sess.CheckOutTime == nil {
			log.Printf("session %s has no completed check-in/out, skipping", evt.AttendanceID)
			continue
		}
		if sess.HoursRecorded {
			continue
		}

		result, err := recorder.RecordProgramHours(ctx, hours.Request{
			OrgID:        sess.OrgID,
			ChildID:      sess.ChildID,
			AttendanceID: sess.ID,
			CheckInTime:  *sess.CheckInTime,
			CheckOutTime: *sess.CheckOutTime,
			Date:         sess.Date.Format("2006-01-02"),
		})
		if err != nil {
			// Push back for a later attempt rather than dropping the recording.
			log.Printf("program hours replay failed for %s: %v", sess.ID, err)
			time.Sleep(time.Second)
			_ = q.Publish(ctx, msg)
			continue
		}
		if len(result.Errors) > 0 {
			log.Printf("program hours recorded with warnings for %s: %v", sess.ID, result.Errors)
		}
		if err := repo.MarkHoursRecorded(ctx, sess.OrgID, sess.ID); err != nil {
			log.Printf("mark hours recorded failed for %s: %v", sess.ID, err)
		}

		time.Sleep(10 * time.Millisecond)
	}

	log.Println("worker stopped")
}
