package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance-recorder/config"
	"attendance-recorder/controllers"
	"attendance-recorder/driver"
	"attendance-recorder/migrations"
	"attendance-recorder/repository"
	"attendance-recorder/utils"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func newRouter(cfg *config.Config, store repository.AttendanceStore, log logrus.FieldLogger) *mux.Router {
	attendanceController := controllers.AttendanceController{
		RedirectPath: cfg.RedirectPath,
		Timeout:      cfg.QueryTimeout,
	}
	healthController := controllers.HealthController{Timeout: cfg.QueryTimeout}

	router := mux.NewRouter()
	router.Use(utils.RequestLogger(log), utils.Recoverer)

	router.HandleFunc("/attendance", attendanceController.RecordAttendance(store)).Methods("POST")
	router.HandleFunc("/attendance", attendanceController.GetAttendance(store)).Methods("GET")
	router.HandleFunc("/attendance/{studentId}/{courseId}", attendanceController.UpdateAttendance(store)).Methods("PUT")

	router.HandleFunc("/health", healthController.Health(store)).Methods("GET")
	return router
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := newLogger(cfg)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server")
	}
	log.Info("server stopped")
}

// run serves until SIGINT/SIGTERM or a listener failure. The pool is
// closed before it returns either way.
func run(cfg *config.Config, log *logrus.Logger) error {
	if err := migrations.Up(cfg, log); err != nil {
		return errors.Wrap(err, "migrate database")
	}
	db, err := driver.ConnectDB(cfg, log)
	if err != nil {
		return errors.Wrap(err, "connect database")
	}
	defer db.Close()

	store := repository.NewAttendanceRepository(db)

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      newRouter(cfg, store, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		return errors.Wrap(err, "listen")
	case <-quit:
	}

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "forced shutdown")
	}
	return nil
}
