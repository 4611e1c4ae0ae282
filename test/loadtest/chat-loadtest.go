// Chat load testing tool for ChatLink.
// Usage: go run test/loadtest/chat-loadtest.go -url ws://localhost:5000/socket -conns 50 -duration 60s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func emit(ctx context.Context, c *websocket.Conn, event string, data any) error {
	d, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := json.Marshal(envelope{Event: event, Data: d})
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, b)
}

func main() {
	url := flag.String("url", "ws://127.0.0.1:5000/socket", "Chat socket URL to connect to")
	conns := flag.Int("conns", 10, "Number of concurrent sessions")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	msgInterval := flag.Duration("interval", 1*time.Second, "Message send interval per session")
	room := flag.String("room", "loadtest-room", "Room id to join and flood")
	flag.Parse()

	fmt.Printf("ChatLink Load Test\n")
	fmt.Printf("  URL:          %s\n", *url)
	fmt.Printf("  Sessions:     %d\n", *conns)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Msg interval: %s\n", *msgInterval)
	fmt.Printf("  Room:         %s\n", *room)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	// Handle interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		connected    atomic.Int64
		sent         atomic.Int64
		received     atomic.Int64
		errors       atomic.Int64
		connectFails atomic.Int64
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *conns; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			c, _, err := websocket.Dial(ctx, *url, nil)
			if err != nil {
				connectFails.Add(1)
				return
			}
			connected.Add(1)
			defer c.CloseNow()

			userID := fmt.Sprintf("loadtest-user-%d", id)
			if err := emit(ctx, c, "authenticate", map[string]string{"userId": userID}); err != nil {
				errors.Add(1)
				return
			}
			if err := emit(ctx, c, "join_room", map[string]string{"roomId": *room, "userId": userID}); err != nil {
				errors.Add(1)
				return
			}

			// Read goroutine counts room message deliveries
			go func() {
				for {
					_, data, err := c.Read(ctx)
					if err != nil {
						return
					}
					var env envelope
					if json.Unmarshal(data, &env) == nil && env.Event == "receive_room_message" {
						received.Add(1)
					}
				}
			}()

			// Write loop
			ticker := time.NewTicker(*msgInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					err := emit(ctx, c, "send_room_message", map[string]string{
						"roomId":  *room,
						"userId":  userID,
						"message": fmt.Sprintf("loadtest message from session %d", id),
					})
					if err != nil {
						errors.Add(1)
						return
					}
					sent.Add(1)
				}
			}
		}(i)
	}

	// Progress reporting
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				fmt.Printf("[%s] connected=%d sent=%d recv=%d errors=%d connect_fails=%d\n",
					elapsed, connected.Load(), sent.Load(), received.Load(), errors.Load(), connectFails.Load())
			}
		}
	}()

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Connected:       %d / %d\n", connected.Load(), *conns)
	fmt.Printf("  Connect fails:   %d\n", connectFails.Load())
	fmt.Printf("  Messages sent:   %d\n", sent.Load())
	fmt.Printf("  Messages recv:   %d\n", received.Load())
	fmt.Printf("  Errors:          %d\n", errors.Load())
	if elapsed.Seconds() > 0 {
		fmt.Printf("  Send rate:       %.1f msg/s\n", float64(sent.Load())/elapsed.Seconds())
		fmt.Printf("  Recv rate:       %.1f msg/s\n", float64(received.Load())/elapsed.Seconds())
	}

	if connectFails.Load() > 0 || errors.Load() > 0 {
		log.Fatal("Load test completed with errors")
	}
}
