package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/admission"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/config"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/db"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/dispatch"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/fallback"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api/admin"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/http/api/front"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/maintenance"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/provider"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/relay"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/store"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/usage"
	"github.com/router-for-me/CLIProxyAPIFallback/internal/watcher"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultServerPort = 8318
	shutdownTimeout   = 5 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	if !ConfigExists(configPath) {
		log.WithField("path", configPath).Warn("config file not found, using environment and defaults")
	}
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// components is the wired runtime graph behind the HTTP surface.
type components struct {
	store      *fallback.Store
	recorder   *usage.Recorder
	dispatcher *dispatch.Dispatcher
	admission  *admission.Manager
	gate       *maintenance.Gate
	relay      *relay.Service
	watcher    *watcher.ConfigWatcher

	trustCallerHeader bool
}

// buildComponents loads the persisted router config (seeding it on first run)
// and wires every collaborator around it.
func buildComponents(ctx context.Context, conn *gorm.DB, serverCfg config.ServerConfig, client provider.Client) (*components, error) {
	persister := store.NewGormConfigStore(conn)
	cfgStore := fallback.NewStore(persister, client, nil)
	cfgStore.SetProbeTimeout(serverCfg.Provider.ProbeTimeout)

	if _, errLoad := cfgStore.Load(ctx, seedConfig(serverCfg.Provider)); errLoad != nil {
		return nil, errLoad
	}
	if errOverride := applyCredentialOverrides(ctx, cfgStore, serverCfg.Provider); errOverride != nil {
		return nil, errOverride
	}

	recorder := usage.NewRecorder(serverCfg.LogCapacity, nil)
	dispatcher := dispatch.NewDispatcher(cfgStore, client, recorder, nil)
	manager := admission.NewManager(admissionSettings(cfgStore, serverCfg.Admission), nil, nil)
	gate := maintenance.NewGate(cfgStore, nil)

	return &components{
		store:      cfgStore,
		recorder:   recorder,
		dispatcher: dispatcher,
		admission:  manager,
		gate:       gate,
		relay:      relay.NewService(manager, gate, dispatcher),
		watcher:    watcher.NewConfigWatcher(persister, cfgStore, serverCfg.WatchInterval),

		trustCallerHeader: serverCfg.Admission.TrustCallerHeader,
	}, nil
}

// admissionSettings combines the runtime limits with the static backend selection.
func admissionSettings(cfgStore *fallback.Store, admissionCfg config.AdmissionConfig) admission.SettingsProvider {
	return func() admission.Settings {
		limits := cfgStore.Get().Admission
		return admission.Settings{
			Limits: admission.Limits{
				RequestLimit: limits.RequestLimit,
				Window:       limits.Window(),
				Cooldown:     limits.Cooldown(),
			},
			RedisEnabled:  admissionCfg.RedisEnabled,
			RedisAddr:     admissionCfg.RedisAddr,
			RedisPassword: admissionCfg.RedisPassword,
			RedisDB:       admissionCfg.RedisDB,
			RedisPrefix:   admissionCfg.RedisPrefix,
		}
	}
}

// newEngine builds the gin engine with admin and front routes.
func newEngine(conn *gorm.DB, jwtCfg config.JWTConfig, comps *components) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:        conn,
		JWT:       jwtCfg,
		Store:     comps.store,
		Gate:      comps.gate,
		Recorder:  comps.recorder,
		Admission: comps.admission,
	})
	front.RegisterFrontRoutes(engine, comps.relay, comps.gate, comps.trustCallerHeader)
	return engine
}

// RunServer boots the failover relay with database-backed configuration.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	if !ConfigExists(configPath) {
		log.WithField("path", configPath).Warn("config file not found, using environment and defaults")
	}
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	jwtConfig, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	if jwtConfig, err = ensureJWTSecret(jwtConfig); err != nil {
		return err
	}

	if serverCfg.Debug {
		log.SetLevel(log.DebugLevel)
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if _, errAdmin := EnsureAdmin(conn, serverCfg.Admin); errAdmin != nil {
		return errAdmin
	}

	client := provider.NewHTTPClient(serverCfg.Provider.BaseURL, nil)
	comps, err := buildComponents(ctx, conn, serverCfg, client)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := comps.admission.Close(); errClose != nil {
			log.WithError(errClose).Warn("close admission manager failed")
		}
	}()

	port := serverCfg.Port
	if port <= 0 {
		port = defaultPort
	}
	if port <= 0 {
		port = defaultServerPort
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort(serverCfg.Host, strconv.Itoa(port)),
		Handler:           newEngine(conn, jwtConfig, comps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	comps.watcher.Start(groupCtx)
	defer comps.watcher.Stop()

	group.Go(func() error {
		log.Infof("starting failover relay on %s with config=%s", srv.Addr, configPath)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", errListen)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
		return nil
	})
	return group.Wait()
}
