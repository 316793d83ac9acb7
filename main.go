package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./cache_conf.json", "Path to the configuration file")
	listen := flag.String("listen", "", "Listen address (overrides configuration)")
	flag.Parse()

	SystemWideLogger = logrus.New()
	SystemWideLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := initCacheSystem(*configPath); err != nil {
		SystemWideLogger.Fatalln("Failed to initialize cache system:", err)
	}

	addr := configuration.Listen
	if *listen != "" {
		addr = *listen
	}

	mux := http.NewServeMux()
	registerAPIs(mux)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		SystemWideLogger.Println("Image delivery cache listening on", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			SystemWideLogger.Fatalln("Server failed:", err)
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	SystemWideLogger.Println("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		SystemWideLogger.Println("Server shutdown error:", err)
	}

	shutdownCacheSystem()
}
