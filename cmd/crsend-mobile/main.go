// The responder role. On a phone this would be the page the scanned QR code
// opens; here it takes the scanned URL as its first argument and acts on the
// role flag inside it: photo mode sends the given JPEG files as captures,
// pdf mode waits for the report and stores it in the download folder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/charmbracelet/log"

	"crsend/internal/config"
	"crsend/internal/invite"
	"crsend/internal/mobile"
	"crsend/internal/rendezvous"
)

func main() {
	var (
		configPath string
		brokerURL  string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to the config.toml file")
	flag.StringVar(&brokerURL, "broker", "", "Rendezvous broker base url")
	flag.StringVar(&logLevel, "loglevel", "", "Log level can be 'info' or 'debug'")
	flag.Parse()

	charmLogger := log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})
	slog.SetDefault(slog.New(charmLogger))

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <scanned-url> [photo.jpg ...]\n", filepath.Base(os.Args[0]))
		os.Exit(2)
	}

	appConf, err := config.Setup(configPath)
	if err != nil {
		slog.Error("error setting up config", slog.Any("err", err))
		os.Exit(1)
	}
	if brokerURL != "" {
		appConf.BrokerURL = brokerURL
	}
	if logLevel != "" {
		appConf.LogLevel = logLevel
	}
	if appConf.LogLevel == "debug" {
		slog.SetDefault(slog.New(log.NewWithOptions(os.Stderr, log.Options{Level: log.DebugLevel, ReportCaller: true})))
	}

	inv, err := invite.ParseURL(flag.Arg(0))
	if err != nil {
		slog.Error("that url is not a pairing invitation", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rdv := rendezvous.NewClient(appConf.BrokerURL, appConf.ConnectTimeoutDuration())
	camera := mobile.NewFileCamera(flag.Args()[1:]...)
	sink := &mobile.FolderSink{Dir: appConf.DownloadFolder}

	orch := mobile.New(rdv, inv, camera, sink, appConf.MaxPayloadBytes())
	if err := orch.Connect(ctx); err != nil {
		slog.Error("could not connect", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, "Connection failed. The QR code may be stale, scan a fresh one.")
		os.Exit(1)
	}
	defer orch.Close()

	switch inv.Mode {
	case invite.ModePhoto:
		for {
			if _, err := orch.CapturePhoto(ctx); err != nil {
				if errors.Is(err, mobile.ErrNoMoreCaptures) {
					break
				}
				// one failed photo does not end the session, the next
				// shutter press is a fresh attempt
				slog.Error("photo failed to send, continuing", slog.Any("error", err))
				continue
			}
		}
		fmt.Printf("%d photos sent\n", len(orch.Assets()))
	case invite.ModePDF:
		doc, err := orch.AwaitDocument(ctx)
		if err != nil {
			slog.Error("no document received", slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("Received %s (%s, %d bytes) into %s\n",
			doc.Filename, doc.PatientLabel, len(doc.Data), appConf.DownloadFolder)
	}
}
