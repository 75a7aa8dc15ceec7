package keygen

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Alphabet 密钥字符集
type Alphabet string

const (
	// Numeric 纯数字字符集
	Numeric Alphabet = "0123456789"
	// Alphanumeric 大写字母加数字，去掉易混淆的 0/O/1/I
	Alphanumeric Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Parse 将配置字符串解析为字符集
func Parse(name string) (Alphabet, error) {
	switch name {
	case "numeric":
		return Numeric, nil
	case "alphanumeric":
		return Alphanumeric, nil
	default:
		return "", fmt.Errorf("未知的密钥字符集 %q", name)
	}
}

// Generate 基于 crypto/rand 生成指定长度的随机码。
// 码值唯一性由调用方在存储层校验（同会话内重试去重）。
func Generate(alphabet Alphabet, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("密钥长度必须为正数，当前 %d", length)
	}
	if len(alphabet) == 0 {
		return "", fmt.Errorf("密钥字符集不能为空")
	}

	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("读取随机源失败: %w", err)
		}
		buf[i] = alphabet[n.Int64()]
	}

	return string(buf), nil
}
