package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証済みアカウントのIDと管理者フラグを運ぶ。
type JWTClaims struct {
	jwt.RegisteredClaims
	// AccountID は認証済みアカウントの識別子。
	AccountID int64 `json:"account_id"`
	// Admin は管理者アカウントかどうか。
	Admin bool `json:"admin"`
}

const (
	// contextKeyAccountID はGinコンテキストにアカウントIDを格納するキー。
	contextKeyAccountID = "account_id"
	// contextKeyAdmin はGinコンテキストに管理者フラグを格納するキー。
	contextKeyAdmin = "admin"
	// headerKeyAccountID は後段にアカウントIDを伝播するためのHTTPヘッダーキー。
	headerKeyAccountID = "X-Account-ID"
	// issuer はトークン発行者。
	issuer = "resident-portal"
)

// ErrInvalidToken はトークンの検証に失敗したことを表す。
var ErrInvalidToken = errors.New("トークンが無効です")

// GenerateJWT はアカウント情報からJWTトークンを生成する。
func GenerateJWT(secret string, accountID int64, admin bool) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    issuer,
			Subject:   strconv.FormatInt(accountID, 10),
		},
		AccountID: accountID,
		Admin:     admin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証してクレームを返す。
// HS256以外の署名アルゴリズムは受け付けない。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AccountID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// ブラウザのWebSocketはヘッダーを付与できないため、Authorizationヘッダーが
// 無い場合はクエリパラメータ "token" も受け付ける。
// 検証に成功した場合、コンテキストに "account_id" と "admin" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		SetAccount(c, claims.AccountID, claims.Admin)
		c.Header(headerKeyAccountID, strconv.FormatInt(claims.AccountID, 10))
		c.Next()
	}
}

// extractToken はリクエストからBearerトークンを取り出す。
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
		return "", errors.New("Authorizationヘッダーが必要です")
	}

	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found {
		return "", errors.New("Bearer トークン形式が不正です")
	}
	return tokenString, nil
}

// SetAccount は認証済みアカウント情報をGinコンテキストに設定する。
// JWTAuth以外の認証手段（テスト等）から利用する。
func SetAccount(c *gin.Context, accountID int64, admin bool) {
	c.Set(contextKeyAccountID, accountID)
	c.Set(contextKeyAdmin, admin)
}

// GetAccountID はGinコンテキストからアカウントIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetAccountID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(contextKeyAccountID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// IsAdmin はGinコンテキストのアカウントが管理者かどうかを返す。
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(contextKeyAdmin)
}
