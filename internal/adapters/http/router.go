package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/dkeye/muc/internal/adapters/signal"
	"github.com/dkeye/muc/internal/app/orch"
	"github.com/dkeye/muc/internal/config"
	"github.com/dkeye/muc/internal/domain"
)

const ctxJID = "jid"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type claims struct {
	jwt.RegisteredClaims
}

// IdentityMiddleware binds a full JID to the request. The bare part comes
// from the JWT subject, or is a guest address derived from the client
// token; the resource lives in the session.
func IdentityMiddleware(secret, guestDomain string) gin.HandlerFunc {
	return func(c *gin.Context) {
		bare, err := bareFromRequest(c, secret, guestDomain)
		if err != nil {
			log.Warn().Str("module", "adapters.http").Err(err).Msg("auth rejected")
			c.AbortWithStatusJSON(nethttp.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		session := sessions.Default(c)
		resource, _ := session.Get("resource").(string)
		if resource == "" {
			resource = uuid.NewString()
			session.Set("resource", resource)
			if err := session.Save(); err != nil {
				log.Error().Str("module", "adapters.http").Err(err).Msg("session save")
			}
		}
		full, err := bare.WithResource(resource)
		if err != nil {
			c.AbortWithStatusJSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxJID, full)
		c.Next()
	}
}

func bareFromRequest(c *gin.Context, secret, guestDomain string) (jid.JID, error) {
	raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if raw == "" {
		raw = c.Query("token")
	}
	if raw == "" {
		return jid.New(c.GetString("client_token"), "guest."+guestDomain, "")
	}
	if secret == "" {
		return jid.JID{}, errors.New("token auth disabled")
	}

	token, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return jid.JID{}, errors.New("invalid token")
	}
	cl, ok := token.Claims.(*claims)
	if !ok || cl.Subject == "" {
		return jid.JID{}, errors.New("token has no subject")
	}
	j, err := jid.Parse(cl.Subject)
	if err != nil {
		return jid.JID{}, err
	}
	return j.Bare(), nil
}

func requestJID(c *gin.Context) jid.JID {
	v, _ := c.Get(ctxJID)
	j, _ := v.(jid.JID)
	return j
}

// roomParam accepts either a full room JID or a bare localpart.
func roomParam(c *gin.Context, service string) (jid.JID, error) {
	raw := c.Param("room")
	if !strings.Contains(raw, "@") {
		raw += "@" + service
	}
	return domain.RoomJID(raw)
}

func httpStatus(err error) int {
	switch orch.ErrorFor(err).Condition {
	case stanza.ItemNotFound:
		return nethttp.StatusNotFound
	case stanza.BadRequest, stanza.NotAcceptable:
		return nethttp.StatusBadRequest
	case stanza.Forbidden:
		return nethttp.StatusForbidden
	case stanza.NotAuthorized, stanza.RegistrationRequired:
		return nethttp.StatusUnauthorized
	case stanza.Conflict:
		return nethttp.StatusConflict
	case stanza.ServiceUnavailable, stanza.ResourceConstraint:
		return nethttp.StatusServiceUnavailable
	default:
		return nethttp.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	se := orch.ErrorFor(err)
	c.JSON(httpStatus(err), gin.H{"error": string(se.Condition), "text": se.Text})
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MUCSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("domain", cfg.MUC.Domain).Msg("router setup")

	api := r.Group("/api")
	api.Use(IdentityMiddleware(cfg.Auth.JWTSecret, cfg.MUC.Domain))

	api.GET("/ws/signal", func(c *gin.Context) {
		full := requestJID(c)
		log.Info().Str("module", "adapters.http").Str("jid", full.String()).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c, full)
	})

	api.GET("/whoami", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"jid": requestJID(c).String()})
	})

	api.GET("/service", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, o.ServiceInfo())
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, o.ServiceItems())
	})

	api.POST("/rooms", func(c *gin.Context) {
		name, err := o.UniqueRoomName()
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(nethttp.StatusCreated, gin.H{"jid": name.String()})
	})

	api.GET("/rooms/:room", func(c *gin.Context) {
		id, err := roomParam(c, cfg.MUC.Domain)
		if err != nil {
			fail(c, err)
			return
		}
		info, err := o.RoomInfo(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(nethttp.StatusOK, info)
	})

	api.GET("/rooms/:room/occupants", func(c *gin.Context) {
		id, err := roomParam(c, cfg.MUC.Domain)
		if err != nil {
			fail(c, err)
			return
		}
		occupants, err := o.Occupants(c.Request.Context(), id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(nethttp.StatusOK, occupants)
	})

	return r
}
