package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/zaz600/go-status-collector/internal/app/config"
	"github.com/zaz600/go-status-collector/internal/controller/httpcontroller"
	"github.com/zaz600/go-status-collector/internal/infrastructure/repository"
	"github.com/zaz600/go-status-collector/internal/service/collector"
	"github.com/zaz600/go-status-collector/internal/service/ingest"
	"github.com/zaz600/go-status-collector/internal/service/scheduler"
)

var (
	BuildVersion = "n/a"
	BuildTime    = "n/a"
	BuildCommit  = "n/a"
)

// Run инициализация и запуск приложения
func Run(args []string) (err error) {
	printBuildInfo()

	ctxBg := context.Background()
	ctx, cancel := signal.NotifyContext(ctxBg, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.GetConfig(args)
	if err != nil {
		return err
	}
	log.Info().EmbedObject(cfg).Msg("app cfg")

	repo, err := repository.NewRepository(ctx, cfg)
	if err != nil {
		return err
	}
	deadLetters, err := repository.NewDeadLetterSink(cfg)
	if err != nil {
		_ = repo.Close(ctxBg)
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queue := ingest.NewQueue(cfg.QueueCapacity)
	flushScheduler, err := scheduler.New(queue, repo, scheduler.NewConfig(cfg),
		scheduler.WithDeadLetterSink(deadLetters),
		scheduler.WithMetrics(scheduler.NewMetrics(reg)),
	)
	if err != nil {
		_ = repo.Close(ctxBg)
		return err
	}
	collectorService := collector.NewService(queue, repo, collector.WithMetrics(collector.NewMetrics(reg, queue)))

	// scheduler останавливается закрытием очереди, чтобы дописать все принятое
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = flushScheduler.Run(ctxBg)
	}()

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           httpcontroller.New(collectorService, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutdown...")
		ctx, cancel := context.WithTimeout(ctxBg, 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Err(err).Msg("error during shutdown server")
		}
	}()

	err = server.ListenAndServe()

	collectorService.Stop()
	<-schedulerDone
	if shutdownErr := collectorService.Shutdown(ctxBg); shutdownErr != nil {
		log.Err(shutdownErr).Msg("error closing repository")
	}
	if deadLetters != nil {
		if closeErr := deadLetters.Close(); closeErr != nil {
			log.Err(closeErr).Msg("error closing dead letter sink")
		}
	}

	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func printBuildInfo() {
	fmt.Println("Build version:", BuildVersion)
	fmt.Println("Build date:", BuildTime)
	fmt.Println("Build commit:", BuildCommit)
}
