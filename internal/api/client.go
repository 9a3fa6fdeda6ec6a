package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	clientCookieName = "sigtap_client"
	clientContextKey = "client_id"
	clientCookieTTL  = 365 * 24 * time.Hour
)

// ClientMiddleware assigns an anonymous uuid to first-time visitors and makes
// it available to handlers. Sessions and history are scoped by this id.
func ClientMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(clientCookieName)
		if err != nil || !validClientID(id) {
			id = uuid.NewString()
			setCookie(c, &http.Cookie{
				Name:     clientCookieName,
				Value:    id,
				MaxAge:   int(clientCookieTTL.Seconds()),
				Path:     "/",
				Secure:   gin.Mode() == gin.ReleaseMode,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		c.Set(clientContextKey, id)
		c.Next()
	}
}

// ClientIDFromContext fetches the client id set by ClientMiddleware.
func ClientIDFromContext(c *gin.Context) (string, bool) {
	id := c.GetString(clientContextKey)
	return id, id != ""
}

func validClientID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
