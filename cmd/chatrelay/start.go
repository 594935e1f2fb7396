package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/bit2swaz/chatrelay/internal/relay"
	"github.com/bit2swaz/chatrelay/internal/tui"
	"github.com/bit2swaz/chatrelay/internal/uplink"
	"github.com/bit2swaz/chatrelay/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var (
	startDest string
	startRoom string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay with the web interface and the TUI",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		// If the UDP port moved but the web port did not, shift the web port
		// by the same offset so two local instances don't collide.
		if cfg.Port != 9000 && !cmd.Flags().Changed("web-port") && cfg.WebPort == 8080 {
			cfg.WebPort = 8080 + cfg.Port - 9000
			fmt.Printf("Auto-adjusting web port to %d\n", cfg.WebPort)
		}
		if err := checkPort(cfg.WebPort); err != nil {
			return fmt.Errorf("web port %d is already in use", cfg.WebPort)
		}

		slog.Info("Starting chat relay", "port", cfg.Port, "nick", cfg.Nick)
		st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, st.Close()) }()

		id, err := openSettings()
		if err != nil {
			return err
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		rl := relay.New(st, id, relay.Options{Port: cfg.Port, Registerer: reg})
		if err := rl.Start(); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, rl.Stop()) }()

		sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		webSrv := web.NewServer(st, rl, id, web.Options{
			Port:      cfg.WebPort,
			Latitude:  cfg.Latitude,
			Longitude: cfg.Longitude,
			Gatherer:  reg,
		})
		g.Go(func() error { return webSrv.Start(gctx) })

		if cfg.UplinkWebhook != "" {
			slog.Info("Initializing uplink service", "webhook", "REDACTED")
			up := uplink.NewService(cfg.UplinkWebhook, id.SenderName)
			msgs := rl.Subscribe(100)
			g.Go(func() error {
				up.Run(gctx, msgs)
				return nil
			})
		}

		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-rl.ReceiveDone():
				if rl.State() == relay.StateRunning {
					slog.Error("Receive loop stopped; incoming messages are no longer recorded")
				}
			}
			return nil
		})

		url := fmt.Sprintf("http://%s:%d", outboundIP(), cfg.WebPort)
		if qr, err := qrcode.New(url, qrcode.Medium); err == nil {
			fmt.Println("\nSCAN TO JOIN:")
			fmt.Println(qr.ToString(false))
		}
		fmt.Println("URL:", url)

		if cfg.Headless {
			slog.Info("Running in headless mode")
			<-gctx.Done()
		} else {
			err := tui.StartTUI(tui.Config{
				Store:       st,
				Relay:       rl,
				Self:        id.SenderName,
				Destination: startDest,
				Chatroom:    startRoom,
				Latitude:    cfg.Latitude,
				Longitude:   cfg.Longitude,
				Banner:      fmt.Sprintf("CHATRELAY :%d\n%s\n", rl.Addr().Port, url),
			})
			if err != nil {
				slog.Error("TUI failed", "error", err)
			}
		}

		cancel()
		return g.Wait()
	},
}

func init() {
	startCmd.Flags().IntVarP(&cfg.WebPort, "web-port", "w", cfg.WebPort, "Web interface port")
	startCmd.Flags().StringVarP(&cfg.Nick, "nick", "n", cfg.Nick, "Sender name (persisted)")
	startCmd.Flags().BoolVar(&cfg.Headless, "headless", cfg.Headless, "Run without the TUI")
	startCmd.Flags().StringVar(&cfg.UplinkWebhook, "uplink-webhook", cfg.UplinkWebhook, "Discord webhook URL for /uplink messages")
	startCmd.Flags().StringVar(&startDest, "to", "", "Initial destination host[:port]")
	startCmd.Flags().StringVar(&startRoom, "room", "general", "Initial chatroom")
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

// outboundIP is the local address used to reach the internet, or loopback.
// No packet is sent; dialing UDP only picks a route.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
