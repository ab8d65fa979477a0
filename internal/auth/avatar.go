package auth

import (
	"net/url"
	"strings"
)

// DefaultAvatarURL はユーザー名から頭文字アバターのURLを生成する。
// 空白は "+" に置き換える。
func DefaultAvatarURL(baseURL, username string) string {
	q := url.Values{}
	q.Set("name", strings.Join(strings.Fields(username), " "))
	q.Set("background", "random")
	q.Set("color", "fff")
	q.Set("size", "200")
	return baseURL + "?" + q.Encode()
}
