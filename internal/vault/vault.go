// Package vault 凭据加解密
//
// 存储层只保存密文 bundle，格式为 base64(iv):base64(ciphertext):base64(tag)。
// 密钥由主口令经 scrypt 派生；解密 fail closed：bundle 损坏或认证标签
// 校验失败一律报错，绝不返回部分结果。
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"

	"autopilot/internal/shared/model"
)

const (
	// scrypt 参数
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	keyLen       = 32
	nonceLen     = 12
	gcmTagLen    = 16
	bundleFields = 3
)

// 密钥派生盐，随 bundle 格式一起固定；更换会使已有密文全部失效
var kdfSalt = []byte("autopilot-credential-vault-v1")

// Vault 凭据保险库
type Vault struct {
	key []byte
}

// New 从主口令派生密钥并创建保险库
func New(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("vault master secret is required")
	}
	key, err := scrypt.Key([]byte(masterSecret), kdfSalt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault key: %w", err)
	}
	return &Vault{key: key}, nil
}

// Encrypt 加密一个明文值，返回 bundle
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to init gcm: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-gcmTagLen]
	tag := sealed[len(sealed)-gcmTagLen:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(ct),
		base64.StdEncoding.EncodeToString(tag),
	}, ":"), nil
}

// DecryptBundle 解密单个 bundle
func (v *Vault) DecryptBundle(bundle string) (string, error) {
	parts := strings.Split(bundle, ":")
	if len(parts) != bundleFields {
		return "", fmt.Errorf("malformed credential bundle: expected %d fields, got %d", bundleFields, len(parts))
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("malformed credential bundle: bad iv: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed credential bundle: bad ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("malformed credential bundle: bad tag: %w", err)
	}
	if len(nonce) != nonceLen {
		return "", fmt.Errorf("malformed credential bundle: iv length %d", len(nonce))
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("credential authentication failed: %w", err)
	}
	return string(plaintext), nil
}

// Decrypt 解密一组凭据记录
//
// 任何一条失败则整体失败，不返回部分结果。
func (v *Vault) Decrypt(records []*model.Credential) (map[string]string, error) {
	values := make(map[string]string, len(records))
	for _, rec := range records {
		value, err := v.DecryptBundle(rec.CipherText)
		if err != nil {
			return nil, fmt.Errorf("credential %s: %w", rec.Key, err)
		}
		values[rec.Key] = value
	}
	return values, nil
}

// Keys 返回一组记录的键名列表（用于日志，绝不输出值）
func Keys(records []*model.Credential) []string {
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key)
	}
	return keys
}
