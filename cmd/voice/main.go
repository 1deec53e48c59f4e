package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicemesh/internal/adapters/audio"
	"github.com/dkeye/voicemesh/internal/adapters/control"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/adapters/wsclient"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/mesh"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cc := cfg.Client
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	self := domain.ParticipantID(cc.ParticipantID)
	if self == "" {
		self = domain.NewParticipantID()
	}
	if err := domain.ValidateUsername(cc.Username); err != nil {
		log.Fatal().Err(err).Str("username", cc.Username).Msg("invalid username")
	}

	factory, err := rtc.NewFactory(rtc.Options{
		ICEServers:       cc.ICEServers,
		DisconnectedWait: cc.ICEDisconnectedWait,
		FailedWait:       cc.ICEFailedWait,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build webrtc api")
	}

	var renderers mesh.RendererFactory = audio.Discard{}
	if cc.RenderBasePort > 0 {
		renderers = audio.NewUDPRenderers(cc.RenderHost, cc.RenderBasePort)
	}

	session := wsclient.NewSession(wsclient.Options{URL: cc.ServerURL, ParticipantID: self}, cc.ReconnectDelay)
	coord := mesh.New(mesh.Options{
		Self:        self,
		Signaler:    session,
		Connections: factory,
		Microphone:  audio.NewMicrophone(cc.Capture, string(self)),
		Renderers:   renderers,
		MaxRetries:  cc.RetryBudget(),
	})
	unsubscribe := session.Subscribe(coord)
	defer unsubscribe()

	ctrl := control.NewServer(coord, session)
	defer ctrl.Close()
	srv := &http.Server{
		Addr:    cc.ControlAddr,
		Handler: ctrl.Router(cfg.Mode),
	}

	if cc.Channel != "" {
		// Not connected yet; the session joins once the socket is up.
		if err := session.Join(domain.NormalizeChannel(cc.Channel), cc.Username); err != nil && !errors.Is(err, core.ErrClosed) {
			log.Warn().Err(err).Msg("join")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coord.Run(gctx) })
	g.Go(func() error { return session.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("participant", string(self)).Msg("voice control api started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("voice exited with error")
		return
	}
	log.Info().Msg("Voice exited gracefully")
}
