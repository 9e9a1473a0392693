package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/roomchat/api"
	"github.com/tcriess/roomchat/config"
	"github.com/tcriess/roomchat/globals"
	"github.com/tcriess/roomchat/persistence"
	"github.com/tcriess/roomchat/presence"
	"github.com/tcriess/roomchat/session"
	"github.com/tcriess/roomchat/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	users, err := persistence.NewCachedUsers(persister, globalConfig.PersistenceConfig.UserCacheSize, globalConfig.PersistenceConfig.UserCacheTTL)
	if err != nil {
		panic(err)
	}

	registry := presence.NewRegistry()
	hub := ws.NewHub(registry)
	coordinator := session.NewCoordinator(registry, users, persister, hub, globalConfig.HistoryConfig.HistorySize)

	cronRunner, err := persistence.StartRetention(persister, globalConfig)
	if err != nil {
		panic(err)
	}
	if cronRunner != nil {
		defer func() { <-cronRunner.Stop().Done() }()
	}

	router := api.New(globalConfig, persister, registry, hub).Router(ws.NewServer(hub, coordinator, globalConfig))
	srv := &http.Server{Addr: globalConfig.Addr, Handler: router}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		globals.AppLogger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			globals.AppLogger.Error("could not shut down http server", "error", err)
		}
		// websocket connections are hijacked, so srv.Shutdown does not wait for them
		hub.Shutdown()
		for hub.ClientCount() > 0 {
			select {
			case <-ctx.Done():
				globals.AppLogger.Warn("clients still connected", "count", hub.ClientCount())
				return
			case <-time.After(50 * time.Millisecond):
			}
		}
	}()

	globals.AppLogger.Info("listening", "addr", globalConfig.Addr, "persistence", globalConfig.PersistenceConfig.Type)
	if *sslCert != "" && *sslKey != "" {
		err = srv.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		globals.AppLogger.Error("stopped listening", "error", err)
		return
	}
	<-stopped
}
