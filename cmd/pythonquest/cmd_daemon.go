package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/config"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// daemonURL returns the base URL of the configured daemon
func daemonURL() string {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultLocalConfig()
	}
	return "http://" + cfg.Daemon.Addr()
}

// cmdStart starts the daemon in the background
func cmdStart() error {
	base := daemonURL()
	if isRunning(base) {
		green.Println("✓ Daemon is already running")
		return nil
	}

	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("setup config directory: %w", err)
	}

	daemonPath, err := findDaemonBinary()
	if err != nil {
		return fmt.Errorf("find daemon binary: %w", err)
	}

	cmd := exec.Command(daemonPath)
	cmd.Dir = dir
	cmd.Stdout = nil
	cmd.Stderr = nil
	detachProcess(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Print("Starting daemon...")
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if isRunning(base) {
			green.Println(" ✓")
			fmt.Printf("Daemon running at %s\n", base)
			return nil
		}
		fmt.Print(".")
	}

	red.Println(" ✗")
	return fmt.Errorf("daemon failed to start (check logs with 'pythonquest logs')")
}

// cmdStop stops the daemon
func cmdStop() error {
	if !isRunning(daemonURL()) {
		fmt.Println("Daemon is not running")
		return nil
	}

	dir, err := config.Dir()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(dir, pidFile))
	if err != nil {
		return fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parse PID: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	fmt.Print("Stopping daemon...")
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	base := daemonURL()
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isRunning(base) {
			green.Println(" ✓")
			return nil
		}
		fmt.Print(".")
	}

	red.Println(" ✗")
	return fmt.Errorf("daemon did not stop gracefully")
}

type daemonStatus struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Interpreter   string   `json:"interpreter"`
	LLMProviders  []string `json:"llm_providers"`
	TutorEnabled  bool     `json:"tutor_enabled"`
	Lessons       int      `json:"lessons"`
	UptimeSeconds int      `json:"uptime_seconds"`
}

// cmdStatus shows daemon status
func cmdStatus() error {
	base := daemonURL()
	if !isRunning(base) {
		fmt.Println("Status: stopped")
		return nil
	}

	status, err := fetchStatus(base)
	if err != nil {
		return err
	}
	printStatus(os.Stdout, base, status)
	return nil
}

func fetchStatus(base string) (*daemonStatus, error) {
	resp, err := httpClient.Get(base + "/v1/status")
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	defer resp.Body.Close()

	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	return &status, nil
}

func printStatus(w io.Writer, base string, s *daemonStatus) {
	providers := "none (tutor disabled)"
	if len(s.LLMProviders) > 0 {
		providers = strings.Join(s.LLMProviders, ", ")
	}
	fmt.Fprintf(w, "Status:      %s\n", s.Status)
	fmt.Fprintf(w, "Version:     %s\n", s.Version)
	fmt.Fprintf(w, "Interpreter: %s\n", s.Interpreter)
	fmt.Fprintf(w, "Providers:   %s\n", providers)
	fmt.Fprintf(w, "Lessons:     %d\n", s.Lessons)
	fmt.Fprintf(w, "Uptime:      %s\n", time.Duration(s.UptimeSeconds)*time.Second)
	fmt.Fprintf(w, "Address:     %s\n", base)
}

// cmdLogs prints the tail of the daemon log
func cmdLogs() error {
	dir, err := config.Dir()
	if err != nil {
		return err
	}

	logPath := filepath.Join(dir, "logs", "pythonquestd.log")
	file, err := os.Open(logPath)
	if os.IsNotExist(err) {
		fmt.Println("No log file found. Start the daemon first.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	return tail(file, os.Stdout, 4096)
}

// tail copies the complete lines in the last size bytes of f to w
func tail(f *os.File, w io.Writer, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	offset := info.Size() - size
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	if offset > 0 {
		// Skip the partial first line
		_, _ = reader.ReadString('\n')
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	return scanner.Err()
}

// isRunning checks the daemon health endpoint
func isRunning(base string) bool {
	resp, err := httpClient.Get(base + "/v1/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findDaemonBinary locates the pythonquestd binary
func findDaemonBinary() (string, error) {
	if path, err := exec.LookPath("pythonquestd"); err == nil {
		return path, nil
	}

	if self, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(self), "pythonquestd")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, path := range []string{"/usr/local/bin/pythonquestd", "./pythonquestd"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("pythonquestd binary not found (build with 'go build ./cmd/pythonquestd')")
}
