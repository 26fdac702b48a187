package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	firebase "firebase.google.com/go"
	"github.com/getsentry/sentry-go"
	"google.golang.org/api/option"

	"bims.app/cloud/handlers"
	"bims.app/cloud/internal/config"
	"bims.app/cloud/internal/email"
	"bims.app/cloud/internal/logger"
	"bims.app/cloud/internal/mercadopago"
	"bims.app/cloud/license"
	"bims.app/cloud/storage"
)

var version = "dev"

func main() {
	if versionBytes, err := os.ReadFile("VERSION"); err == nil {
		version = strings.TrimSpace(string(versionBytes))
	}

	cfg, err := config.New()
	if err != nil {
		log.Fatalf("config: %s", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          version,
			TracesSampleRate: 1.0,
		}); err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()

	var opts []option.ClientOption
	if cfg.FirebaseCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentials))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.FirebaseDatabaseURL}, opts...)
	if err != nil {
		log.Fatalf("firebase: %s", err)
	}

	store, err := storage.NewFirebaseStorage(ctx, app)
	if err != nil {
		log.Fatalf("storage: %s", err)
	}
	defer store.Close()

	identity, err := storage.NewFirebaseIdentity(ctx, app)
	if err != nil {
		log.Fatalf("identity: %s", err)
	}

	processor, err := mercadopago.NewClient(cfg.MercadoPagoToken)
	if err != nil {
		log.Fatalf("mercadopago: %s", err)
	}

	activator := license.NewActivator(identity, store, email.New(cfg.FirebaseAPIKey))

	server := handlers.NewHTTPServer(cfg, store, identity, processor, activator)
	server.Version = version

	logger.Info("BIMS Cloud API starting", map[string]interface{}{
		"version": version,
		"port":    cfg.Port,
	})

	log.Fatal(http.ListenAndServe(":"+cfg.Port, server.Router))
}
