package geo

import "regexp"

// 與前端相同的 IPv4 檢查規則：四段 0-255，容許前導零（"08" 視為合法）。
var ipv4Pattern = regexp.MustCompile(
	`^(25[0-5]|2[0-4][0-9]|1?[0-9][0-9]?)\.(25[0-5]|2[0-4][0-9]|1?[0-9][0-9]?)\.(25[0-5]|2[0-4][0-9]|1?[0-9][0-9]?)\.(25[0-5]|2[0-4][0-9]|1?[0-9][0-9]?)$`)

// IsValidIPv4 檢查字串是否為點分十進位 IPv4。純函式，不打網路。
func IsValidIPv4(candidate string) bool {
	return ipv4Pattern.MatchString(candidate)
}
