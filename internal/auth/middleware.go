package auth

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// AdminAddressKey is the context key carrying the authenticated operator.
const AdminAddressKey = "admin_address"

// AdminRequest is the JSON payload inside X-Admin-Message (fields sorted).
type AdminRequest struct {
	Action    string `json:"action"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
	Resource  string `json:"resource"`
}

const maxFutureWindow = 5 * time.Minute

// AdminGuard returns a Gin handler that admits only requests carrying a
// valid EIP-191 signature from one of the allowed operator addresses.
// rdb may be nil, which disables nonce replay protection.
func AdminGuard(allowed []string, rdb *redis.Client) gin.HandlerFunc {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowSet[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}

	return func(c *gin.Context) {
		operator := c.GetHeader("X-Admin-Address")
		msgB64 := c.GetHeader("X-Admin-Message")
		sigHex := c.GetHeader("X-Admin-Signature")

		if operator == "" || msgB64 == "" || sigHex == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing auth headers"})
			return
		}
		if _, ok := allowSet[strings.ToLower(operator)]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "address not allowed"})
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(msgB64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid X-Admin-Message encoding"})
			return
		}

		var req AdminRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signed message JSON"})
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request expired"})
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "expires_at too far in future"})
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature hex"})
			return
		}

		recovered, err := RecoverSigner(msgBytes, sig)
		if err != nil || !strings.EqualFold(recovered.Hex(), operator) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}

		// Nonce dedup via Redis SET NX, scoped to the message lifetime.
		if rdb != nil && req.Nonce != "" {
			ttl := time.Duration(req.ExpiresAt-now) * time.Second
			set, err := rdb.SetNX(context.Background(), "admin:nonce:"+req.Nonce, 1, ttl).Result()
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			if !set {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "nonce already used"})
				return
			}
		}

		c.Set(AdminAddressKey, operator)
		c.Next()
	}
}
