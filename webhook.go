package helpdesk

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/maxbolgarin/abstract"
	"github.com/maxbolgarin/errm"
	"github.com/maxbolgarin/lang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	tele "gopkg.in/telebot.v4"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

var (
	errMissingSecret = errm.New("missing secret token header")
	errInvalidSecret = errm.New("invalid secret token")
)

// WebhookServer receives updates from Telegram and submits them to the dispatcher.
// It answers as soon as the update is queued: processing continues after the response.
type WebhookServer struct {
	srv     *http.Server
	router  *gin.Engine
	cfg     WebhookConfig
	submit  func(tele.Update) error
	metrics *metrics
	log     Logger
}

// NewWebhookServer creates a server with the webhook endpoint, "/health" and,
// if gatherer is not nil, "/metrics".
func NewWebhookServer(cfg WebhookConfig, submit func(tele.Update) error, gatherer prometheus.Gatherer, log Logger) *WebhookServer {
	gin.SetMode(gin.ReleaseMode)

	ws := &WebhookServer{
		router: gin.New(),
		cfg:    cfg,
		submit: submit,
		log:    orNoop(log),
	}
	ws.router.Use(gin.Recovery())

	ws.router.GET("/health", ws.handleHealth)
	if gatherer != nil {
		ws.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	ws.router.POST(cfg.Path(), ws.observe, ws.handleWebhook)
	ws.router.GET(cfg.Path(), func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	ws.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           ws.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}

	return ws
}

// Handler returns the HTTP handler of the server.
func (ws *WebhookServer) Handler() http.Handler {
	return ws.router
}

// Start listens on the configured address and serves requests in background.
func (ws *WebhookServer) Start() error {
	ln, err := net.Listen("tcp", ws.cfg.Listen)
	if err != nil {
		return errm.Wrap(err, "listen", "address", ws.cfg.Listen)
	}

	lang.Go(ws.log, func() {
		if err := ws.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.log.Error("webhook server stopped", "error", err, "listen", ws.cfg.Listen)
		}
	})

	ws.log.Info("webhook server started", "listen", ws.cfg.Listen, "path", ws.cfg.Path())

	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (ws *WebhookServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}

func (ws *WebhookServer) handleWebhook(c *gin.Context) {
	if err := ws.checkSecret(c.Request); err != nil {
		ws.log.Warn("webhook request rejected", "error", err, "remote", c.ClientIP())
		c.String(http.StatusUnauthorized, "unauthorized")
		return
	}

	var upd tele.Update
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	err := ws.submit(upd)
	switch {
	case errors.Is(err, ErrOverloaded):
		c.String(http.StatusServiceUnavailable, "busy")
	case err != nil:
		ws.log.Error("cannot submit update", "error", err, "update_id", upd.ID)
		c.String(http.StatusInternalServerError, "error")
	default:
		c.String(http.StatusOK, "ok")
	}
}

func (ws *WebhookServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (ws *WebhookServer) observe(c *gin.Context) {
	timer := abstract.StartTimer()
	ws.metrics.HandleRequest(c.Request)
	c.Next()
	ws.metrics.HandleResponse(c.Request, c.Writer.Status(), timer.ElapsedTime())
}

func (ws *WebhookServer) checkSecret(r *http.Request) error {
	if ws.cfg.Secret == "" {
		return nil
	}
	token := r.Header.Get(secretTokenHeader)
	if token == "" {
		return errMissingSecret
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(ws.cfg.Secret)) != 1 {
		return errInvalidSecret
	}
	return nil
}

// rawCaller calls Bot API methods by name, *tele.Bot implements it.
type rawCaller interface {
	Raw(method string, payload any) ([]byte, error)
}

// SetWebhook registers the webhook URL in Telegram.
func SetWebhook(bot rawCaller, cfg WebhookConfig) error {
	if cfg.URL == "" {
		return errm.New("webhook url is empty")
	}
	params := map[string]any{
		"url":                  cfg.URL,
		"max_connections":      lang.Check(cfg.MaxConnections, 40),
		"drop_pending_updates": cfg.DropPendingUpdates,
		"allowed_updates":      allowedUpdates,
	}
	if cfg.Secret != "" {
		params["secret_token"] = cfg.Secret
	}
	if _, err := bot.Raw("setWebhook", params); err != nil {
		return errm.Wrap(err, "set webhook")
	}
	return nil
}

// DeleteWebhook removes the webhook, so updates can be received by polling.
func DeleteWebhook(bot rawCaller, dropPending bool) error {
	_, err := bot.Raw("deleteWebhook", map[string]any{
		"drop_pending_updates": dropPending,
	})
	if err != nil {
		return errm.Wrap(err, "delete webhook")
	}
	return nil
}

// WebhookInfo contains information about the current webhook configuration.
type WebhookInfo struct {
	URL                  string   `json:"url"`
	HasCustomCertificate bool     `json:"has_custom_certificate"`
	PendingUpdateCount   int      `json:"pending_update_count"`
	IPAddress            string   `json:"ip_address,omitempty"`
	LastErrorDate        int64    `json:"last_error_date,omitempty"`
	LastErrorMessage     string   `json:"last_error_message,omitempty"`
	MaxConnections       int      `json:"max_connections,omitempty"`
	AllowedUpdates       []string `json:"allowed_updates,omitempty"`
}

// LastError returns the time of the last delivery error or zero time.
func (i WebhookInfo) LastError() time.Time {
	if i.LastErrorDate == 0 {
		return time.Time{}
	}
	return time.Unix(i.LastErrorDate, 0)
}

// GetWebhookInfo retrieves current webhook information from Telegram.
func GetWebhookInfo(bot rawCaller) (WebhookInfo, error) {
	resp, err := bot.Raw("getWebhookInfo", nil)
	if err != nil {
		return WebhookInfo{}, errm.Wrap(err, "get webhook info")
	}

	var result struct {
		Ok     bool        `json:"ok"`
		Result WebhookInfo `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return WebhookInfo{}, errm.Wrap(err, "parse webhook info response")
	}
	if !result.Ok {
		return WebhookInfo{}, errm.New("telegram API returned error")
	}

	return result.Result, nil
}
