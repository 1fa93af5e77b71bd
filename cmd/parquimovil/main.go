package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tmaldonado/parquimovil/internal/config"
	"github.com/tmaldonado/parquimovil/internal/conn"
	"github.com/tmaldonado/parquimovil/internal/discovery"
	"github.com/tmaldonado/parquimovil/internal/session"
	"github.com/tmaldonado/parquimovil/internal/ticket"
	"github.com/tmaldonado/parquimovil/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/parquimovil/config.yaml)")
	deviceAddr := flag.String("device", "", "controller address to connect to (skips the picker)")
	listOnly := flag.Bool("list", false, "scan for controllers and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}
	slog.SetLogLoggerLevel(logLevel(cfg.LogLevel))

	printBanner(cfg)

	disc := discovery.New(discovery.NewBLERadio(), discovery.NewBlueZBonded(),
		time.Duration(cfg.Bluetooth.ScanTimeout))

	log.Println("Scanning for controllers...")
	devices, err := collectDevices(disc)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	if len(devices) == 0 {
		log.Fatal("No controllers found. Check that the coin controller is powered and in range.")
	}
	for i, dev := range devices {
		log.Printf("  [%d] %-20s %s (%s)", i, dev.Name, dev.Address, dev.Kind)
	}
	if *listOnly {
		return
	}

	dev, err := pickDevice(devices, *deviceAddr)
	if err != nil {
		log.Fatalf("device selection: %v", err)
	}

	opts := transport.Options{
		ServiceHint:        cfg.Bluetooth.ServiceHint,
		CharacteristicHint: cfg.Bluetooth.CharacteristicHint,
		ConnectTimeout:     time.Duration(cfg.Bluetooth.ConnectTimeout),
	}
	manager := conn.NewManager(conn.DefaultFactory(opts))

	connectCtx, cancelConnect := context.WithTimeout(context.Background(),
		time.Duration(cfg.Bluetooth.ConnectTimeout))
	err = manager.Connect(connectCtx, dev)
	cancelConnect()
	if err != nil {
		log.Fatalf("connect %s: %v", dev.Address, err)
	}
	defer manager.Disconnect()
	log.Printf("Connected to %s (%s)", dev.Name, dev.Kind)

	controller := session.NewController(manager, cfg.CoinValue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunks, err := manager.Chunks()
	if err != nil {
		log.Fatalf("stream: %v", err)
	}
	go controller.Run(ctx, chunks)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lines := readLines(os.Stdin)

	log.Println("Ready. Commands: ticket | scan <payload> | status | cancel | finalize | quit")

	for {
		select {
		case snap := <-controller.Updates():
			reportUpdate(snap)

		case line, ok := <-lines:
			if !ok {
				log.Println("Input closed, shutting down...")
				return
			}
			if runCommand(controller, cfg.CoinValue, line) {
				return
			}

		case sig := <-sigCh:
			log.Printf("Received %s, shutting down...", sig)
			controller.Cancel()
			return
		}
	}
}

// runCommand executes one operator command. Returns true to quit.
func runCommand(controller *session.Controller, coinValue int, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
	case "ticket":
		p := ticket.New(coinValue)
		log.Printf("Ticket issued, QR payload: %s", p.Format())

	case "scan":
		p, err := ticket.Parse(arg)
		if err != nil {
			log.Printf("ERROR: %v", err)
			break
		}
		if err := controller.Start(p.Price); err != nil {
			log.Printf("ERROR: %v", err)
			break
		}
		log.Printf("Ticket %d: price %d, awaiting controller", p.ID, p.Price)

	case "status":
		snap := controller.Snapshot()
		log.Printf("state=%s price=%d coins=%d/%d rateConfirmed=%v completed=%v",
			snap.State, snap.Price, snap.CoinsReceived, snap.CoinsRequired,
			snap.RateConfirmed, snap.Completed)

	case "cancel":
		controller.Cancel()

	case "finalize":
		controller.Finalize()

	case "quit", "exit":
		controller.Cancel()
		return true

	default:
		log.Printf("Unknown command %q", cmd)
	}
	return false
}

func reportUpdate(snap session.Snapshot) {
	switch snap.State {
	case session.AwaitingCoins:
		log.Printf("Coins: %d/%d", snap.CoinsReceived, snap.CoinsRequired)
	case session.PaymentComplete:
		log.Printf("PAYMENT COMPLETE: %d coins for price %d. Run 'finalize' to issue the ticket.",
			snap.CoinsReceived, snap.Price)
	case session.Idle:
		log.Println("Session reset")
	}
}

// collectDevices drains one discovery pass into a slice.
func collectDevices(disc *discovery.Discovery) ([]transport.Device, error) {
	ch, err := disc.Scan(context.Background())
	if err != nil {
		return nil, err
	}
	var devices []transport.Device
	for dev := range ch {
		devices = append(devices, dev)
	}
	return devices, nil
}

func pickDevice(devices []transport.Device, addr string) (transport.Device, error) {
	if addr == "" {
		return devices[0], nil
	}
	for _, dev := range devices {
		if strings.EqualFold(dev.Address, addr) {
			return dev, nil
		}
	}
	return transport.Device{}, fmt.Errorf("no discovered device with address %s", addr)
}

// readLines pumps stdin lines onto a channel so the main loop can
// select over input, session updates, and signals at once.
func readLines(f *os.File) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// loadConfig loads the config from the specified path, or falls back
// to the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== parquimovil ===")
	fmt.Printf("  Coin value: %d\n", cfg.CoinValue)
	fmt.Printf("  BLE UART:   %s/%s\n", cfg.Bluetooth.ServiceHint, cfg.Bluetooth.CharacteristicHint)
	fmt.Printf("  Timeouts:   scan %s, connect %s\n",
		time.Duration(cfg.Bluetooth.ScanTimeout), time.Duration(cfg.Bluetooth.ConnectTimeout))
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("===================")
}
