package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner animates a single status line until stopped.
type Spinner struct {
	mu      sync.Mutex
	message string
	frames  spinner.Spinner
	done    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewSpinner(message string) *Spinner {
	return &Spinner{message: message, frames: spinner.Dot, done: make(chan struct{})}
}

// NewConnectionSpinner uses the globe frames for network waits.
func NewConnectionSpinner(message string) *Spinner {
	return &Spinner{message: message, frames: spinner.Globe, done: make(chan struct{})}
}

func (s *Spinner) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.frames.FPS)
		defer t.Stop()
		for i := 0; ; i++ {
			s.mu.Lock()
			frame := SpinnerStyle.Render(s.frames.Frames[i%len(s.frames.Frames)])
			fmt.Fprintf(Out, "\r%s %s", frame, s.message)
			s.mu.Unlock()
			select {
			case <-s.done:
				return
			case <-t.C:
			}
		}
	}()
}

func (s *Spinner) Update(message string) {
	s.mu.Lock()
	s.message = message
	s.mu.Unlock()
}

// Stop clears the line. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
	fmt.Fprint(Out, "\r\033[K")
}

func (s *Spinner) Success(message string) {
	s.Stop()
	PrintSuccess(message)
}

func (s *Spinner) Error(message string) {
	s.Stop()
	PrintError(message)
}

// RunConnectionSpinner starts a connection spinner and returns its stop func.
func RunConnectionSpinner(message string) func() {
	sp := NewConnectionSpinner(message)
	sp.Start()
	return sp.Stop
}
