package main

import (
	"flag"
	"log"
	"time"

	"github.com/sunhouy/OJ-Assistant-sub000/pkg/config"
	"github.com/sunhouy/OJ-Assistant-sub000/pkg/logging"
	"github.com/sunhouy/OJ-Assistant-sub000/pkg/relay"
)

func main() {
	configPath := flag.String("config", "", "path to config file (JSON)")
	addr := flag.String("addr", ":8765", "listen address")
	otpTTL := flag.Duration("otp-ttl", 100*time.Minute, "OTP lifetime (0 = never expire)")
	rateLimit := flag.Int("rate-limit", 30, "handshakes per minute per IP (0 = unlimited)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log format (text, json)")
	flag.Parse()

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		config.ApplyToFlags(cfg)
	}

	logging.Setup(*logLevel, *logFormat)

	s := relay.New(relay.Options{
		OTPTTL:    *otpTTL,
		RateLimit: *rateLimit,
	})
	log.Fatal(s.ListenAndServe(*addr))
}
