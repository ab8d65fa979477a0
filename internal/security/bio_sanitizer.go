package security

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/blogguer/internal/model"
)

// MaxBioLength は自己紹介の最大文字数（サニタイズ後のルーン数）。
const MaxBioLength = 1000

// maxSanitizePasses はエンティティで入れ子にされたタグを除去しきるまでの上限回数。
const maxSanitizePasses = 4

// BioSanitizer は自己紹介文からHTMLを除去し、プレーンテキストとして返す。
// StrictPolicyはテキストをHTMLエスケープして返すため、保存前にエンティティを戻す。
type BioSanitizer struct {
	policy *bluemonday.Policy
}

// NewBioSanitizer はBioSanitizerを生成する。
func NewBioSanitizer() *BioSanitizer {
	return &BioSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し前後の空白を取り除いた自己紹介文を返す。
// 結果が MaxBioLength を超える場合は検証エラーを返す。
func (s *BioSanitizer) Sanitize(raw string) (string, error) {
	clean, err := s.plainText(raw)
	if err != nil {
		return "", err
	}
	clean = strings.TrimSpace(clean)
	if n := utf8.RuneCountInString(clean); n > MaxBioLength {
		return "", model.NewValidationError(fmt.Sprintf("bio must be at most %d characters (got %d)", MaxBioLength, n))
	}
	return clean, nil
}

// plainText はタグを除去してエンティティを戻す。
// 戻した結果に新たなタグが現れた場合は、変化がなくなるまで繰り返す。
func (s *BioSanitizer) plainText(raw string) (string, error) {
	text := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return text, nil
		}
		text = next
	}
	if html.UnescapeString(s.policy.Sanitize(text)) == text {
		return text, nil
	}
	return "", model.NewValidationError("bio must not contain markup")
}
