package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"crsend/internal/config"
	"crsend/internal/desktop"
	"crsend/internal/invite"
	"crsend/internal/rendezvous"
	"crsend/internal/report"
	"crsend/internal/tui"
	"crsend/internal/tui/hooks"
)

// savingHooks writes every received photo into the session folder before
// passing the event on to whatever renders the session. The folder is named
// after the session id, which exists only after registration, hence SetDir.
type savingHooks struct {
	desktop.UIHooks
	mu  sync.Mutex
	dir string
}

func (h *savingHooks) SetDir(dir string) {
	h.mu.Lock()
	h.dir = dir
	h.mu.Unlock()
}

func (h *savingHooks) PhotoReceived(p *desktop.Photo) {
	h.mu.Lock()
	dir := h.dir
	h.mu.Unlock()
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			path := filepath.Join(dir, p.Name)
			if err := os.WriteFile(path, p.JPEG, 0o644); err != nil {
				slog.Error("could not save photo", slog.String("path", path), slog.Any("error", err))
			}
		}
	}
	h.UIHooks.PhotoReceived(p)
}

func main() {
	var (
		configPath string
		mode       string
		file       string
		patient    string
		brokerURL  string
		origin     string
		qrPNG      string
		headless   bool
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to the config.toml file")
	flag.StringVar(&mode, "mode", "photo", "Session mode: 'photo' receives captures from the phone, 'pdf' sends a report to it")
	flag.StringVar(&file, "file", "", "Report pdf to send (pdf mode)")
	flag.StringVar(&patient, "patient", "", "Patient label stamped on the transfer (pdf mode)")
	flag.StringVar(&brokerURL, "broker", "", "Rendezvous broker base url")
	flag.StringVar(&origin, "origin", "", "Origin for the invite url")
	flag.StringVar(&qrPNG, "qr-png", "", "Also write the invite QR to this png file")
	flag.BoolVar(&headless, "headless", false, "No TUI, just print the QR and log events")
	flag.StringVar(&logLevel, "loglevel", "", "Log level can be 'info' or 'debug'")
	flag.Parse()

	charmLogger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})
	slog.SetDefault(slog.New(charmLogger))

	appConf, err := config.Setup(configPath)
	if err != nil {
		slog.Error("error setting up config", slog.Any("err", err))
		os.Exit(1)
	}
	if brokerURL != "" {
		appConf.BrokerURL = brokerURL
	}
	if origin != "" {
		appConf.Origin = origin
	}
	if logLevel != "" {
		appConf.LogLevel = logLevel
	}

	logOpts := log.Options{Level: log.InfoLevel}
	if appConf.LogLevel == "debug" {
		logOpts.Level = log.DebugLevel
		logOpts.ReportCaller = true
	}
	if headless {
		charmLogger = log.NewWithOptions(os.Stderr, logOpts)
	} else {
		// the TUI owns the terminal
		logfile, err := os.Create("debug.log")
		if err != nil {
			os.Exit(1)
		}
		charmLogger = log.NewWithOptions(logfile, logOpts)
	}
	slog.SetDefault(slog.New(charmLogger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rdv := rendezvous.NewClient(appConf.BrokerURL, appConf.ConnectTimeoutDuration())
	limit := appConf.MaxPayloadBytes()

	var inviteMode invite.Mode
	var ui desktop.UIHooks
	var teaHooks *hooks.UIHooks
	if headless {
		ui = desktop.HeadlessHooks{}
	} else {
		teaHooks = hooks.NewHooks()
		ui = teaHooks
	}

	var orch *desktop.Orchestrator
	var orchMode desktop.Mode
	var saver *savingHooks
	switch mode {
	case "photo":
		inviteMode = invite.ModePhoto
		orchMode = desktop.ReceivePhotos
		saver = &savingHooks{UIHooks: ui}
		orch = desktop.NewPhotoReceiver(rdv, saver, limit)
	case "pdf":
		inviteMode = invite.ModePDF
		orchMode = desktop.SendReport
		if file == "" {
			slog.Error("pdf mode needs -file")
			os.Exit(1)
		}
		rep, err := report.Load(file, patient, limit)
		if err != nil {
			slog.Error("could not load report", slog.Any("error", err))
			os.Exit(1)
		}
		orch = desktop.NewReportSender(rdv, rep, ui, limit)
	default:
		slog.Error("unknown mode", slog.String("mode", mode))
		os.Exit(1)
	}

	sessionID, err := orch.Open(ctx)
	if err != nil {
		slog.Error("could not register session with broker", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, "Connection failed. Check the broker and try again.")
		os.Exit(1)
	}
	defer orch.Close()

	sessionFolder := ""
	if saver != nil {
		sessionFolder = filepath.Join(appConf.DownloadFolder, sessionID)
		saver.SetDir(sessionFolder)
	}

	inviteURL, err := invite.BuildURL(appConf.Origin, inviteMode, sessionID)
	if err != nil {
		slog.Error("could not build invite url", slog.Any("error", err))
		os.Exit(1)
	}
	qr, err := invite.Terminal(inviteURL)
	if err != nil {
		slog.Error("could not render QR code", slog.Any("error", err))
		os.Exit(1)
	}
	if qrPNG != "" {
		if err := invite.WritePNG(inviteURL, 256, qrPNG); err != nil {
			slog.Error("could not write QR png", slog.String("path", qrPNG), slog.Any("error", err))
		}
	}

	if headless {
		fmt.Println("Scan to pair your phone:")
		fmt.Println(qr)
		fmt.Println(inviteURL)
		if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Connection failed. Generate a new QR code and rescan.")
			os.Exit(1)
		}
		if orchMode == desktop.ReceivePhotos {
			fmt.Printf("Session over, %d photos in %s\n", len(orch.Photos()), sessionFolder)
		}
		return
	}

	model := tui.NewModel(orch, orchMode, inviteURL, qr)
	p := tea.NewProgram(model)
	teaHooks.SetProgram(p)
	go func() {
		if err := orch.Run(ctx); err != nil {
			slog.Debug("orchestrator finished", slog.Any("error", err))
		}
	}()
	if _, err := p.Run(); err != nil {
		slog.Error("tui error", slog.Any("error", err))
		os.Exit(1)
	}
}
