package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// flutterDriver owns the playwright-go process that backs the Flutter
// Runtime MCP server's browser/VM-service driver lifecycle. The actual
// VM-service screenshot/tap protocol is out of scope (spec §1
// non-goals); this wires a real start/stop/health-check driver process,
// grounded on the teacher's cmd/nexus-edge browser_tools.go use of
// playwright-go for headless browser automation.
type flutterDriver struct {
	mu  sync.Mutex
	pw  *playwright.Playwright
	bro playwright.Browser
}

func (d *flutterDriver) start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw != nil {
		return nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright driver: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("launch driver browser: %w", err)
	}
	d.pw = pw
	d.bro = browser
	return nil
}

func (d *flutterDriver) stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pw == nil {
		return nil
	}
	if d.bro != nil {
		_ = d.bro.Close()
	}
	err := d.pw.Stop()
	d.pw = nil
	d.bro = nil
	return err
}

func (d *flutterDriver) healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pw != nil && d.bro != nil && d.bro.IsConnected()
}

// NewFlutterRuntimeServer builds the per-agent "flutterRuntime" MCP
// server. Only the driver's lifecycle is implemented here; the VM
// service's screenshot/tap extensions are a spec non-goal.
func NewFlutterRuntimeServer(logger *slog.Logger) *Server {
	driver := &flutterDriver{}
	return NewServer("flutterRuntime", "1.0.0", []ToolSpec{
		{
			Name:        "startRuntime",
			Description: "start the Flutter runtime driver process",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				if err := driver.start(); err != nil {
					return err.Error(), true, nil
				}
				return "runtime started", false, nil
			},
		},
		{
			Name:        "stopRuntime",
			Description: "stop the Flutter runtime driver process",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				if err := driver.stop(); err != nil {
					return err.Error(), true, nil
				}
				return "runtime stopped", false, nil
			},
		},
		{
			Name:        "runtimeHealth",
			Description: "report whether the Flutter runtime driver is healthy",
			Handler: func(ctx context.Context, params map[string]any) (string, bool, error) {
				if driver.healthy() {
					return "healthy", false, nil
				}
				return "not running", false, nil
			},
		},
	}, logger)
}
