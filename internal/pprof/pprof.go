// Package pprof profiles a download run, either into files or over an
// HTTP debug endpoint.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/codefionn/greyhound/internal/logger"
)

// Config selects which profiles are collected. Empty fields are off.
type Config struct {
	HTTPAddr         string // e.g. "localhost:6060"
	CPUProfile       string
	HeapProfile      string
	GoroutineProfile string
}

// Enabled reports whether any profile is requested.
func (c Config) Enabled() bool {
	return c.HTTPAddr != "" || c.CPUProfile != "" || c.HeapProfile != "" || c.GoroutineProfile != ""
}

// Profiler owns the running profiles.
type Profiler struct {
	cfg Config

	mu      sync.Mutex
	cpuFile *os.File
	server  *http.Server
	addr    net.Addr
	stopped bool
}

// Start begins CPU profiling and the debug server as configured.
func Start(cfg Config) (*Profiler, error) {
	p := &Profiler{cfg: cfg}

	if cfg.CPUProfile != "" {
		f, err := create(cfg.CPUProfile)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		p.cpuFile = f
	}

	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			p.stopCPU()
			return nil, fmt.Errorf("failed to bind pprof HTTP server: %w", err)
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", netpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)

		p.addr = ln.Addr()
		p.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := p.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("pprof server error: %v", err)
			}
		}()
		logger.Info("pprof listening on http://%s/debug/pprof/", p.addr)
	}
	return p, nil
}

// Addr is the debug server's address, nil when it is not running.
func (p *Profiler) Addr() net.Addr {
	return p.addr
}

// Stop ends CPU profiling, writes the snapshot profiles and shuts the
// debug server down. Calling it again is a no-op.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	p.stopped = true

	var errs []error
	if err := p.stopCPU(); err != nil {
		errs = append(errs, err)
	}
	if p.cfg.HeapProfile != "" {
		errs = append(errs, writeProfile("heap", p.cfg.HeapProfile))
	}
	if p.cfg.GoroutineProfile != "" {
		errs = append(errs, writeProfile("goroutine", p.cfg.GoroutineProfile))
	}
	if p.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown pprof server: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Profiler) stopCPU() error {
	if p.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := p.cpuFile.Close()
	p.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}

func writeProfile(name, path string) error {
	prof := pprof.Lookup(name)
	if prof == nil {
		return fmt.Errorf("profile %q not found", name)
	}
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := prof.WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", name, err)
	}
	return nil
}
