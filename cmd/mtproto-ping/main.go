// Command mtproto-ping dials a Telegram datacenter, brings up a Client,
// and fires a batch of MTProto ping requests at it to measure round-trip
// latency and loss, the way ping/ping.go exercises a mix network session
// in the reference client.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlmjohnson/versioninfo"
	charmlog "github.com/charmbracelet/log"

	"github.com/LonamiWebs/gomtproto"
	"github.com/LonamiWebs/gomtproto/internal/tl"
)

func main() {
	var (
		configPath  string
		count       int
		concurrency int
		timeout     time.Duration
	)

	flag.StringVar(&configPath, "config", "mtproto-ping.toml", "path to the client TOML configuration")
	flag.IntVar(&count, "count", 4, "number of pings to send")
	flag.IntVar(&concurrency, "concurrency", 1, "number of pings in flight at once")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "per-ping deadline")
	versionFlag := versioninfo.AddFlag(flag.CommandLine)
	flag.Parse()

	if *versionFlag {
		fmt.Println(versioninfo.Short())
		os.Exit(0)
	}

	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true, Prefix: "mtproto-ping"})

	cfg, err := mtproto.LoadConfig(configPath)
	if err != nil {
		log.Fatal("load config", "path", configPath, "err", err)
	}

	client, err := mtproto.New(*cfg)
	if err != nil {
		log.Fatal("new client", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(count+1))
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		log.Fatal("connect", "err", err)
	}
	defer client.Close()

	log.Info("sending pings", "count", count, "concurrency", concurrency, "dc", cfg.DCID)
	sendPings(ctx, client, count, concurrency, timeout, log)
}

func sendPings(ctx context.Context, client *mtproto.Client, count, concurrency int, timeout time.Duration, log *charmlog.Logger) {
	var passed, failed uint64
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i := 0; i < count; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			rtt, err := sendPing(ctx, client, timeout)
			if err != nil {
				fmt.Print("~")
				atomic.AddUint64(&failed, 1)
				log.Debug("ping failed", "err", err)
				return
			}
			fmt.Print("!")
			atomic.AddUint64(&passed, 1)
			log.Debug("pong", "rtt", rtt, "since_start", time.Since(start))
		}()
	}
	fmt.Println()
	wg.Wait()

	total := passed + failed
	var percent float64
	if total > 0 {
		percent = float64(passed) * 100 / float64(total)
	}
	fmt.Printf("success rate %.1f%% (%d/%d)\n", percent, passed, total)
}

// sendPing issues one ping#7abe77ec and waits for the matching pong,
// returning the measured round-trip time.
func sendPing(ctx context.Context, client *mtproto.Client, timeout time.Duration) (time.Duration, error) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pingID, err := randomPingID()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	body := tl.EncodeBoxed(&tl.Ping{PingID: pingID})
	reply, err := client.Invoke(pingCtx, body)
	if err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	obj, err := tl.DecodeBoxed(reply)
	if err != nil {
		return 0, fmt.Errorf("decode pong: %w", err)
	}
	pong, ok := obj.(*tl.Pong)
	if !ok {
		return 0, fmt.Errorf("expected pong, got %T", obj)
	}
	if pong.PingID != pingID {
		return 0, fmt.Errorf("pong ping_id mismatch: sent %d, got %d", pingID, pong.PingID)
	}
	return rtt, nil
}

func randomPingID() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
