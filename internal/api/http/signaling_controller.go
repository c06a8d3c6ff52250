package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/laika/internal/api/http/converter"
	"github.com/immxrtalbeast/laika/internal/domain"
	"github.com/immxrtalbeast/laika/internal/service"
	"github.com/immxrtalbeast/laika/lib/logger/sl"
)

const signalingServiceName = "laika-webrtc-signaling"

type SignalingController struct {
	signaling service.SignalingInteractor
	upgrader  websocket.Upgrader
	opts      WSOptions
	log       *slog.Logger
}

func NewSignalingController(signaling service.SignalingInteractor, opts WSOptions, log *slog.Logger) *SignalingController {
	if log == nil {
		log = slog.Default()
	}
	return &SignalingController{
		signaling: signaling,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		opts: opts.withDefaults(),
		log:  log,
	}
}

// ServeWS upgrades the request and serves signaling messages until the
// connection closes or the request context is cancelled.
func (c *SignalingController) ServeWS(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", sl.Err(err))
		return
	}

	newSession(ctx.Request.Context(), conn, c.signaling, c.opts, c.log).run()
}

func (c *SignalingController) ListDevices(ctx *gin.Context) {
	devices := c.signaling.ListDevices()
	ctx.JSON(http.StatusOK, gin.H{
		"devices":     converter.DeviceStatusesToApi(devices),
		"count":       len(devices),
		"ice_servers": c.signaling.ICEServers(),
	})
}

func (c *SignalingController) ICEServers(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"ice_servers": c.signaling.ICEServers()})
}

func (c *SignalingController) Stats(ctx *gin.Context) {
	stats := c.signaling.Stats()
	ctx.JSON(http.StatusOK, gin.H{
		"devices":        stats.Devices,
		"clients":        stats.Clients,
		"rooms":          stats.Rooms,
		"connections":    stats.Connections,
		"uptime_seconds": int64(stats.Uptime / time.Second),
	})
}

func (c *SignalingController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   signalingServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *SignalingController) Index(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"service": signalingServiceName,
		"status":  "running",
		"endpoints": gin.H{
			"websocket":   "/ws",
			"devices":     "/api/devices",
			"ice_servers": "/api/ice-servers",
			"stats":       "/api/stats",
			"health":      "/health",
		},
		"events": gin.H{
			"inbound": []string{
				domain.EventRegisterDevice,
				domain.EventRegisterClient,
				domain.EventRequestConnection,
				domain.EventWebRTCOffer,
				domain.EventWebRTCAnswer,
				domain.EventICECandidate,
				domain.EventConnectionEstablished,
			},
			"outbound": []string{
				domain.EventConnected,
				domain.EventRegistrationSuccess,
				domain.EventConnectionRequest,
				domain.EventConnectionRequestSent,
				domain.EventConnectionSuccess,
				domain.EventDeviceOnline,
				domain.EventDeviceOffline,
				domain.EventError,
			},
		},
	})
}
