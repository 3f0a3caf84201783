package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/angas/omie-go/catalog"
	"github.com/angas/omie-go/config"
	"github.com/angas/omie-go/database"
	"github.com/angas/omie-go/logging"
	"github.com/angas/omie-go/mqtt"
	"github.com/angas/omie-go/omie"
	"github.com/angas/omie-go/sensor"
	"github.com/angas/omie-go/task"
	"github.com/angas/omie-go/www"
)

var Version = "?.?.?"

// The market areas covered by the OMIE files and the timezone each sensor
// localizes its hours to.
var sensorDefs = []struct {
	key      string
	source   catalog.Source
	timezone string
}{
	{"spot_price_es", catalog.SourceSpot, "Europe/Madrid"},
	{"spot_price_pt", catalog.SourceSpot, "Europe/Lisbon"},
	{"adjustment_price_es", catalog.SourceAdjustment, "Europe/Madrid"},
	{"adjustment_price_pt", catalog.SourceAdjustment, "Europe/Lisbon"},
}

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleLevel := new(slog.LevelVar)
	consoleLevel.Set(cnfg.Logging.GetConsoleLevel())
	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      consoleLevel,
		TimeFormat: time.RFC3339,
	})
	slog.New(consoleHandler).Debug("omie-go is starting...", slog.String("version", Version))

	db, err := database.New(ctx, cnfg.Database.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	logger := slog.New(logging.NewMultiHandler(
		consoleHandler,
		logging.NewSQLiteHandler(db, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat())))
	slog.SetDefault(logger)

	// Now we can use the logger to log database operations into the database itself
	db.SetLogger(logger.With("module", "database"))

	config.Watch(func(c *config.AppConfig) {
		consoleLevel.Set(c.Logging.GetConsoleLevel())
		logger.Info("config reloaded", slog.String("consoleLevel", consoleLevel.Level().String()))
	})

	refLoc, err := time.LoadLocation(cnfg.Omie.GetTimezone())
	if err != nil {
		panic(fmt.Sprintf("failed to load reference timezone: %v", err))
	}

	client := omie.NewClient(cnfg.Omie.GetBaseURL(), cnfg.Omie.GetTimeout())
	cat, err := catalog.New(client, refLoc, catalog.Options{
		NoneBefore:     cnfg.Omie.GetNoneBefore(),
		UpdateInterval: cnfg.Omie.GetUpdateInterval(),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to build series catalog: %v", err))
	}

	sensors := make([]*sensor.Sensor, 0, len(sensorDefs))
	sensorsBySource := make(map[catalog.Source][]*sensor.Sensor)
	for _, def := range sensorDefs {
		localLoc, err := time.LoadLocation(def.timezone)
		if err != nil {
			panic(fmt.Sprintf("failed to load sensor timezone: %v", err))
		}
		src := def.source
		sn := sensor.New(def.key, sensor.Sources{
			Yesterday: func() *omie.FetchedSeries { return cat.Series(src, catalog.WindowYesterday) },
			Today:     func() *omie.FetchedSeries { return cat.Series(src, catalog.WindowToday) },
			Tomorrow:  func() *omie.FetchedSeries { return cat.Series(src, catalog.WindowTomorrow) },
		}, refLoc, localLoc)
		sensors = append(sensors, sn)
		sensorsBySource[src] = append(sensorsBySource[src], sn)
	}

	tasks := task.NewTasks(db, cnfg)
	tasks.Run()
	defer tasks.Stop()

	server := www.StartServer(sensors, cnfg.Api, Version)

	var publisher *mqtt.Publisher
	if cnfg.Mqtt.Enabled {
		publisher = mqtt.New(cnfg.Mqtt)
		if err := publisher.Connect(); err != nil {
			panic(fmt.Sprintf("mqtt connection error: %v", err))
		}
		defer publisher.Disconnect()
	}

	cat.OnUpdate(func(source catalog.Source, window catalog.Window) {
		for _, sn := range sensorsBySource[source] {
			state := sn.State()
			server.BroadcastState(state)
			if publisher != nil {
				publisher.PublishState(state)
			}
		}
	})

	go cat.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	server.Run(ctx)
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}
	time.Sleep(2 * time.Second)
	os.Exit(1)
}
