// Package control is the local HTTP API a participant's UI talks to.
package control

import (
	"net/http"
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/mesh"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const noticeBacklog = 32

// Mesh is the presentation surface of the mesh coordinator.
type Mesh interface {
	ToggleMute() bool
	SetMuted(muted bool) bool
	Muted() bool
	ReceiveOnly() bool
	Handles() []mesh.AudioHandle
	Peers() []mesh.PeerInfo
	Channel() (domain.ChannelName, bool)
	Subscribe(fn func(mesh.Notice)) (unsubscribe func())
}

// Signaling is what the control API asks of the messaging channel.
type Signaling interface {
	Join(ch domain.ChannelName, name string) error
	Leave() error
	AnnounceMute(muted bool) error
}

type Server struct {
	mesh      Mesh
	signaling Signaling

	mu          sync.Mutex
	notices     []mesh.Notice
	unsubscribe func()
}

func NewServer(m Mesh, s Signaling) *Server {
	srv := &Server{mesh: m, signaling: s}
	srv.unsubscribe = m.Subscribe(srv.record)
	return srv
}

func (s *Server) record(n mesh.Notice) {
	log.Info().Str("module", "control").Str("kind", string(n.Kind)).Str("peer", string(n.Peer)).Msg("notice")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	if len(s.notices) > noticeBacklog {
		s.notices = s.notices[len(s.notices)-noticeBacklog:]
	}
}

// Close stops collecting notices.
func (s *Server) Close() { s.unsubscribe() }

type stateResponse struct {
	Channel     domain.ChannelName `json:"channel,omitempty"`
	Joined      bool               `json:"joined"`
	Muted       bool               `json:"muted"`
	ReceiveOnly bool               `json:"receive_only"`
}

type joinRequest struct {
	Channel string `json:"channel"`
	Name    string `json:"name"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func (s *Server) Router(mode string) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.GET("/state", s.state)
	api.GET("/mute", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"muted": s.mesh.Muted()})
	})
	api.POST("/mute/toggle", func(c *gin.Context) {
		s.respondMute(c, s.mesh.ToggleMute())
	})
	api.PUT("/mute", func(c *gin.Context) {
		var req muteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		s.respondMute(c, s.mesh.SetMuted(*req.Muted))
	})
	api.GET("/audio", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.mesh.Handles())
	})
	api.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.mesh.Peers())
	})
	api.GET("/notices", func(c *gin.Context) {
		s.mu.Lock()
		out := append([]mesh.Notice{}, s.notices...)
		s.mu.Unlock()
		c.JSON(http.StatusOK, out)
	})
	api.POST("/join", s.join)
	api.POST("/leave", func(c *gin.Context) {
		if err := s.signaling.Leave(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusAccepted)
	})

	log.Info().Str("module", "control").Msg("router setup")
	return r
}

func (s *Server) state(c *gin.Context) {
	ch, joined := s.mesh.Channel()
	c.JSON(http.StatusOK, stateResponse{
		Channel:     ch,
		Joined:      joined,
		Muted:       s.mesh.Muted(),
		ReceiveOnly: s.mesh.ReceiveOnly(),
	})
}

func (s *Server) respondMute(c *gin.Context, muted bool) {
	if err := s.signaling.AnnounceMute(muted); err != nil {
		log.Warn().Err(err).Str("module", "control").Msg("announce mute")
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (s *Server) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	if req.Name != "" {
		if err := domain.ValidateUsername(req.Name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	ch := domain.NormalizeChannel(req.Channel)
	if err := s.signaling.Join(ch, req.Name); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"channel": ch})
}
