package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dscengine/crypto"
	"dscengine/observability/logging"
	telemetry "dscengine/observability/otel"
	"dscengine/services/dscd/app"
	"dscengine/services/dscd/config"
	"dscengine/services/dscd/server"
)

func main() {
	var (
		cfgPath   string
		issueFor  string
		issueTTL  time.Duration
		checkOnly bool
		newKey    string
	)
	flag.StringVar(&cfgPath, "config", "services/dscd/config.yaml", "path to dscd config (.yaml or .toml)")
	flag.StringVar(&issueFor, "issue-token", "", "print a bearer token for the given account and exit")
	flag.DurationVar(&issueTTL, "token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.BoolVar(&checkOnly, "check", false, "validate the configuration and exit")
	flag.StringVar(&newKey, "new-operator-key", "", "write a new operator keystore to the given path, print its address and exit")
	flag.Parse()

	if newKey != "" {
		if err := writeOperatorKey(newKey); err != nil {
			log.Fatalf("new operator key: %v", err)
		}
		return
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if checkOnly {
		fmt.Println("configuration ok")
		return
	}
	if issueFor != "" {
		account, err := crypto.ParseAccount(issueFor)
		if err != nil {
			log.Fatalf("parse account: %v", err)
		}
		tok, err := server.IssueToken(cfg.Auth.HMACSecret, account, cfg.Auth.Issuer, cfg.Auth.Audience, issueTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	env := strings.TrimSpace(os.Getenv("DSCD_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logOpts := []logging.Option{logging.WithLevel(logging.ParseLevel(cfg.Log.Level))}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := logging.Setup("dscd", env, logOpts...)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "dscd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	daemon, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("build dscd: %v", err)
	}
	defer daemon.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		logger.Error("dscd: exited", "error", err)
		daemon.Close()
		os.Exit(1)
	}
}

// writeOperatorKey generates a key encrypted with DSCD_KEYSTORE_PASSPHRASE and
// prints the account it controls. Point engine.operator_keystore at the file
// to run the daemon as that operator.
func writeOperatorKey(path string) error {
	passphrase := os.Getenv("DSCD_KEYSTORE_PASSPHRASE")
	if passphrase == "" {
		return fmt.Errorf("DSCD_KEYSTORE_PASSPHRASE must be set")
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		return err
	}
	addr := key.PubKey().Address()
	fmt.Printf("%s\n%s\n", addr.String(), addr.Hex())
	return nil
}
