// Package interrupt runs registered shutdown handlers on SIGINT/SIGTERM,
// grounded on the teacher's `interrupt.AddHandler` call site in its main.go.
package interrupt

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	mu       sync.Mutex
	handlers []func()
	once     sync.Once
)

// AddHandler registers a shutdown handler, run in registration order when
// the process receives SIGINT or SIGTERM.
func AddHandler(h func()) {
	mu.Lock()
	handlers = append(handlers, h)
	mu.Unlock()
	once.Do(listen)
}

func listen() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		mu.Lock()
		hs := append([]func(){}, handlers...)
		mu.Unlock()
		for _, h := range hs {
			h()
		}
	}()
}
