package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHashPersonal(t *testing.T) {
	// Prefix length must track the message length.
	h1 := HashPersonal([]byte("hello"))
	h2 := HashPersonal([]byte("hello!"))
	if len(h1) != 32 || len(h2) != 32 {
		t.Fatalf("hash lengths: %d, %d", len(h1), len(h2))
	}
	if hex.EncodeToString(h1) == hex.EncodeToString(h2) {
		t.Error("distinct messages hashed equal")
	}
}

func TestRecoverSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	msg := []byte(`{"action":"clear"}`)

	sig, err := crypto.Sign(HashPersonal(msg), key)
	if err != nil {
		t.Fatal(err)
	}

	// V as 0/1
	got, err := RecoverSigner(msg, sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if got != addr {
		t.Errorf("recovered %s, want %s", got.Hex(), addr.Hex())
	}

	// V as 27/28
	sig27 := make([]byte, 65)
	copy(sig27, sig)
	sig27[64] += 27
	got, err = RecoverSigner(msg, sig27)
	if err != nil || got != addr {
		t.Errorf("recovered %s (%v), want %s", got.Hex(), err, addr.Hex())
	}

	if _, err := RecoverSigner(msg, sig[:64]); err == nil {
		t.Error("expected error for short signature")
	}
}

// signedHeaders produces the three admin headers for a request signed now.
func signedHeaders(t *testing.T, nonce string, expiresAt int64) (addr, msgB64, sigHex string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(AdminRequest{
		Action:    "cache_clear",
		ExpiresAt: expiresAt,
		Nonce:     nonce,
		Resource:  "/admin/detector/cache",
	})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := crypto.Sign(HashPersonal(raw), key)
	if err != nil {
		t.Fatal(err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(),
		base64.StdEncoding.EncodeToString(raw),
		"0x" + hex.EncodeToString(sig)
}

func adminRouter(allowed []string, rdb *redis.Client) *gin.Engine {
	r := gin.New()
	r.DELETE("/admin/detector/cache", AdminGuard(allowed, rdb), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": c.GetString(AdminAddressKey)})
	})
	return r
}

func doAdmin(r *gin.Engine, addr, msg, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodDelete, "/admin/detector/cache", nil)
	if addr != "" {
		req.Header.Set("X-Admin-Address", addr)
		req.Header.Set("X-Admin-Message", msg)
		req.Header.Set("X-Admin-Signature", sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminGuard_Success(t *testing.T) {
	addr, msg, sig := signedHeaders(t, "n-1", time.Now().Add(time.Minute).Unix())
	r := adminRouter([]string{addr}, nil)

	w := doAdmin(r, addr, msg, sig)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
}

func TestAdminGuard_Rejections(t *testing.T) {
	addr, msg, sig := signedHeaders(t, "n-1", time.Now().Add(time.Minute).Unix())
	otherAddr, _, _ := signedHeaders(t, "n-2", time.Now().Add(time.Minute).Unix())
	_, expiredMsg, expiredSig := signedHeaders(t, "n-3", time.Now().Add(-time.Minute).Unix())
	_, farMsg, farSig := signedHeaders(t, "n-4", time.Now().Add(time.Hour).Unix())

	tests := []struct {
		name           string
		allowed        []string
		addr, msg, sig string
		wantStatus     int
	}{
		{"missing headers", []string{addr}, "", "", "", http.StatusUnauthorized},
		{"address not allowed", []string{otherAddr}, addr, msg, sig, http.StatusForbidden},
		{"expired", []string{addr}, addr, expiredMsg, expiredSig, http.StatusUnauthorized},
		{"expiry too far out", []string{addr}, addr, farMsg, farSig, http.StatusUnauthorized},
		{"bad base64", []string{addr}, addr, "%%%", sig, http.StatusUnauthorized},
		{"signer mismatch", []string{addr, otherAddr}, otherAddr, msg, sig, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := adminRouter(tt.allowed, nil)
			w := doAdmin(r, tt.addr, tt.msg, tt.sig)
			if w.Code != tt.wantStatus {
				t.Errorf("status: got %d want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestAdminGuard_NonceReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	addr, msg, sig := signedHeaders(t, "n-once", time.Now().Add(time.Minute).Unix())
	r := adminRouter([]string{addr}, rdb)

	if w := doAdmin(r, addr, msg, sig); w.Code != http.StatusOK {
		t.Fatalf("first request: got %d", w.Code)
	}
	if w := doAdmin(r, addr, msg, sig); w.Code != http.StatusUnauthorized {
		t.Errorf("replay: got %d want 401", w.Code)
	}
}
