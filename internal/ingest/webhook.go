package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/postpilot/postpilot/internal/models"
	"github.com/postpilot/postpilot/pkg/config"
	"github.com/postpilot/postpilot/pkg/logging"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxBodyBytes    = 1 << 20
)

// Enqueuer accepts events for asynchronous processing
type Enqueuer interface {
	Enqueue(event models.Event) bool
}

// envelope is the webhook body: one or more events per delivery
type envelope struct {
	Events []models.Event `json:"events"`
}

// Webhook receives pushed events, acknowledges them quickly and queues them
type Webhook struct {
	secret      string
	verifyToken string
	ring        *Ring
	queue       Enqueuer
	now         func() time.Time
	logger      *zap.Logger
}

// NewWebhook creates the webhook handlers
func NewWebhook(cfg *config.PlatformConfig, ring *Ring, queue Enqueuer) *Webhook {
	return &Webhook{
		secret:      cfg.AppSecret,
		verifyToken: cfg.VerifyToken,
		ring:        ring,
		queue:       queue,
		now:         time.Now,
		logger:      logging.WithComponent("webhook"),
	}
}

// Register mounts the webhook and diagnostics routes
func (w *Webhook) Register(r gin.IRouter) {
	r.POST("/webhooks/events", w.receive)
	r.GET("/webhooks/events", w.verify)
	r.GET("/debug/webhooks", w.recent)
}

func (w *Webhook) receive(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	if w.secret != "" && !validSignature(w.secret, c.GetHeader(signatureHeader), body) {
		w.logger.Warn("Rejected webhook with bad signature", zap.String("remote", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	w.ring.Add(w.now().UTC(), body)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	accepted, skipped := 0, 0
	for _, event := range env.Events {
		event := event // per-iteration copy; go 1.21 shares loop variables
		if err := event.Validate(); err != nil {
			w.logger.Debug("Skipping invalid event", zap.Error(err))
			skipped++
			continue
		}
		if !w.queue.Enqueue(event) {
			w.logger.Warn("Event queue full", zap.Int("accepted", accepted))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full", "accepted": accepted})
			return
		}
		accepted++
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "skipped": skipped})
}

// verify answers the subscription challenge
func (w *Webhook) verify(c *gin.Context) {
	if c.Query("hub.mode") != "subscribe" || w.verifyToken == "" || c.Query("hub.verify_token") != w.verifyToken {
		c.Status(http.StatusForbidden)
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

func (w *Webhook) recent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"capacity": w.ring.Cap(),
		"payloads": w.ring.Snapshot(),
	})
}

// Sign computes the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret, header string, body []byte) bool {
	if !strings.HasPrefix(header, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(secret, body)))
}
