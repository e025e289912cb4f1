package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/V4T54L/logrelay/internal/adapter/syslog"
	"github.com/V4T54L/logrelay/internal/domain"
)

var methods = []string{"GET", "POST", "PUT", "DELETE"}

func main() {
	target := pflag.String("addr", "127.0.0.1:514", "collector UDP address")
	concurrency := pflag.IntP("concurrency", "c", 4, "number of concurrent workers")
	duration := pflag.DurationP("duration", "d", 30*time.Second, "duration of the load test")
	rps := pflag.Int("rps", 1000, "datagrams per second limit")
	mix := pflag.String("mix", "plain,appserver,request", "comma separated payload kinds to cycle through")
	pflag.Parse()

	kinds, err := parseMix(*mix)
	if err != nil {
		log.Fatalf("invalid --mix: %v", err)
	}

	log.Printf("Starting load test on %s", *target)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d", *concurrency, *duration, *rps)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			transport, err := syslog.DialUDP(*target, 65507)
			if err != nil {
				log.Printf("worker %d: %v", workerID, err)
				return
			}
			defer transport.Close()

			for n := 0; ; n++ {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				level, payload := buildPayload(kinds[n%len(kinds)], workerID, n)
				if err := transport.Write(syslog.Encode(domain.DefaultFacility, level.Priority(), payload)); err != nil {
					errorCount.Add(1)
					continue
				}
				successCount.Add(1)
			}
		}(i)
	}

	wg.Wait()

	total := successCount.Load() + errorCount.Load()
	actualRPS := float64(total) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Datagrams: %d", total)
	log.Printf("Sent: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}

func parseMix(s string) ([]domain.EntryType, error) {
	var kinds []domain.EntryType
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "":
		case "plain":
			kinds = append(kinds, domain.EntryPlain)
		case "appserver":
			kinds = append(kinds, domain.EntryAppserver)
		case "request":
			kinds = append(kinds, domain.EntryRequest)
		default:
			return nil, fmt.Errorf("unknown kind %q", name)
		}
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no kinds given")
	}
	return kinds, nil
}

func buildPayload(kind domain.EntryType, worker, n int) (domain.Level, string) {
	source := fmt.Sprintf("load-%d", worker)
	id := uuid.NewString()

	switch kind {
	case domain.EntryAppserver:
		level := domain.LevelWarning
		if n%10 == 0 {
			level = domain.LevelError
		}
		return level, fmt.Sprintf("%s%s|%s|load test event %s", domain.AppserverSignature, source, level, id)
	case domain.EntryRequest:
		status := 200
		if n%20 == 0 {
			status = 404
		}
		method := methods[rand.IntN(len(methods))]
		return domain.LevelInfo, fmt.Sprintf("%s%s|%s|10.0.%d.%d|%s|load-tester/1.0|%d|%d|%d|/items/%d|%s /items/%d",
			domain.RequestSignature, source, domain.LevelInfo, worker, n%256, method,
			rand.IntN(8192), status, rand.IntN(500), n, method, n)
	default:
		return domain.LevelInfo, fmt.Sprintf("%s - load test event %s", source, id)
	}
}
