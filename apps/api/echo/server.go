package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/chessclub/core"
	"github.com/trezcool/chessclub/core/club"
	"github.com/trezcool/chessclub/core/user"
	"github.com/trezcool/chessclub/services/faceid"
	"github.com/trezcool/chessclub/services/telegram"
)

type (
	// ServerDeps is everything the API server needs, injected by main.
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		UserSvc    *user.Service
		ClubSvc    *club.Service
		Repo       *club.Repository
		Attendance *club.AttendanceEngine
		Billing    *club.BillingEngine
		Ratings    *club.Aggregator
		Telegram   *telegram.Service // nil when no bot token is configured
		FaceID     *faceid.Service   // nil when no vision backend is configured
	}

	Server struct {
		deps       ServerDeps
		app        *echo.Echo
		jwt        middleware.JWTConfig
		errCh      chan error
		shutdownCh chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:       deps,
		app:        echo.New(),
		jwt:        newJWTConfig(deps.Conf),
		errCh:      make(chan error, 1),
		shutdownCh: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdownCh, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.signalShutdown)
	s.app.Debug = conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(s.jwt)

	registerAuthAPI(v1, jwt, s.deps)
	registerClubAPI(v1, jwt, s.deps)
	registerAttendanceAPI(v1, jwt, s.deps)
	registerBillingAPI(v1, jwt, s.deps)
	registerRatingsAPI(v1, jwt, s.deps)
	registerCommsAPI(v1, jwt, s.deps)
}

// Start runs the listener; the outcome lands on Errors().
func (s *Server) Start() {
	s.errCh <- s.app.Start(s.deps.Conf.Server.Address())
}

func (s *Server) Errors() <-chan error             { return s.errCh }
func (s *Server) ShutdownSignal() <-chan os.Signal { return s.shutdownCh }

func (s *Server) Shutdown(ctx context.Context) error { return s.app.Shutdown(ctx) }
func (s *Server) Close() error                       { return s.app.Close() }

func (s *Server) signalShutdown() { s.shutdownCh <- syscall.SIGTERM }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.deps.Conf.AppName+" API!")
}
