package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const fileAudience = "sitechat-file"

// fileClaims 是附件下载令牌。令牌只在请求时签发, 不写入消息或事件。
type fileClaims struct {
	Path string `json:"p"`
	jwt.RegisteredClaims
}

// SignFilePath 为存储路径签发一个短期下载令牌。
func SignFilePath(path, key string, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	claims := fileClaims{
		Path: path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			Audience:  jwt.ClaimStrings{fileAudience},
			Issuer:    issuer,
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("签发下载令牌失败: %w", err)
	}
	return token, expires, nil
}

// VerifyFileToken 校验下载令牌并返回其中的存储路径。
func VerifyFileToken(token, key string) (string, error) {
	claims := &fileClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, hmacKey(key),
		jwt.WithAudience(fileAudience), jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("下载令牌无效: %w", err)
	}
	if !parsed.Valid || claims.Path == "" {
		return "", fmt.Errorf("下载令牌无效")
	}
	return claims.Path, nil
}
